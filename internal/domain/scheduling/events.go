package scheduling

import (
	"context"
	"time"
)

// Lifecycle event types published after successful mutations.
const (
	EventCreated     = "appointment.created"
	EventRescheduled = "appointment.rescheduled"
	EventCancelled   = "appointment.cancelled"
	EventCompleted   = "appointment.completed"
)

// Event records that a lifecycle mutation committed. The core only
// reports that it happened; delivery (email, SMS, webhooks) is a
// consumer concern.
type Event struct {
	Type        string       `json:"type"`
	Appointment *Appointment `json:"appointment"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// EventSink receives lifecycle events. Publish must not block the
// request beyond a local handoff.
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

// MultiSink fans an event out to every registered sink in order.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, e Event) {
	for _, s := range m {
		s.Publish(ctx, e)
	}
}

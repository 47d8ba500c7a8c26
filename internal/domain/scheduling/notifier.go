package scheduling

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/notification"
	"github.com/clinicdesk/clinicdesk/internal/platform/webhook"
)

// RecipientResolver maps a participant ID to a deliverable address for the
// given channel (an email address for ChannelEmail, a phone number for
// ChannelSMS). Returning an empty address with a nil error skips the notice
// for that participant.
type RecipientResolver func(ctx context.Context, personID uuid.UUID, channel notification.Channel) (string, error)

// StaticRecipient returns a resolver that sends every notice to one fixed
// address. Useful in development together with notification.LogSender.
func StaticRecipient(addr string) RecipientResolver {
	return func(context.Context, uuid.UUID, notification.Channel) (string, error) {
		return addr, nil
	}
}

// eventTemplates maps lifecycle event types to notice templates. Events
// without an entry produce no notice.
var eventTemplates = map[string]string{
	EventCreated:     "appointment-created",
	EventRescheduled: "appointment-rescheduled",
	EventCancelled:   "appointment-cancelled",
	EventCompleted:   "appointment-completed",
}

// NotificationSink turns lifecycle events into patient-facing notices.
// Delivery happens off the request goroutine; failures are logged, never
// surfaced to the caller that booked the appointment.
type NotificationSink struct {
	manager *notification.Manager
	resolve RecipientResolver
	logger  zerolog.Logger
}

func NewNotificationSink(m *notification.Manager, resolve RecipientResolver, logger zerolog.Logger) *NotificationSink {
	return &NotificationSink{manager: m, resolve: resolve, logger: logger}
}

func (s *NotificationSink) Publish(ctx context.Context, e Event) {
	// Detach from the request context so an already-written response does
	// not abort the send.
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.notify(ctx, e); err != nil {
			s.logger.Error().Err(err).
				Str("event", e.Type).
				Msg("appointment notice delivery failed")
		}
	}()
}

// notify performs one synchronous notice delivery for an event.
func (s *NotificationSink) notify(ctx context.Context, e Event) error {
	templateID, ok := eventTemplates[e.Type]
	if !ok || e.Appointment == nil {
		return nil
	}
	channel, ok := s.manager.Templates().Channel(templateID)
	if !ok {
		channel = notification.ChannelEmail
	}
	recipient, err := s.resolve(ctx, e.Appointment.PatientID, channel)
	if err != nil {
		return err
	}
	if recipient == "" {
		return nil
	}
	_, err = s.manager.SendFromTemplate(ctx, templateID, noticeData(e.Appointment), recipient)
	return err
}

// noticeData builds the placeholder values for lifecycle notice templates.
func noticeData(a *Appointment) map[string]string {
	data := map[string]string{
		"appointment_id": a.ID.String(),
		"date":           a.StartTime.Format("2006-01-02"),
		"time":           a.StartTime.Format("15:04"),
		"reason":         "",
		"notes":          "",
	}
	if a.Reason != nil {
		data["reason"] = *a.Reason
	}
	if a.Notes != nil {
		data["notes"] = *a.Notes
	}
	return data
}

// WebhookSink forwards lifecycle events to registered webhook endpoints.
// The appointment is the payload; the event type and dispatch time travel
// in the webhook envelope.
type WebhookSink struct {
	dispatcher *webhook.Dispatcher
	logger     zerolog.Logger
}

func NewWebhookSink(d *webhook.Dispatcher, logger zerolog.Logger) *WebhookSink {
	return &WebhookSink{dispatcher: d, logger: logger}
}

func (s *WebhookSink) Publish(ctx context.Context, e Event) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		results := s.dispatcher.Dispatch(ctx, e.Type, e.Appointment)
		for _, r := range results {
			if !r.Success {
				s.logger.Warn().
					Str("endpoint_id", r.EndpointID).
					Str("event", e.Type).
					Str("error", r.Error).
					Msg("webhook delivery failed")
			}
		}
	}()
}

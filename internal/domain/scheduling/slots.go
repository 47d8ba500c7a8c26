package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotConfig bounds the bookable day grid and the slot cache.
type SlotConfig struct {
	DayOpen       time.Duration // offset from midnight, e.g. 8h
	DayClose      time.Duration // offset from midnight, e.g. 18h
	StepMinutes   int           // grid granularity
	BufferMinutes int           // minimum lead time for same-day bookings
	CacheSize     int           // LRU entries; 0 disables caching
	CacheTTL      time.Duration
}

// DefaultSlotConfig matches the practice's published hours.
func DefaultSlotConfig() SlotConfig {
	return SlotConfig{
		DayOpen:       8 * time.Hour,
		DayClose:      18 * time.Hour,
		StepMinutes:   30,
		BufferMinutes: 15,
		CacheSize:     256,
		CacheTTL:      30 * time.Second,
	}
}

// SlotConfigFromStrings builds a SlotConfig from "HH:MM" day bounds.
func SlotConfigFromStrings(open, close string, stepMinutes, bufferMinutes int) (SlotConfig, error) {
	cfg := DefaultSlotConfig()
	var err error
	if cfg.DayOpen, err = parseClock(open); err != nil {
		return SlotConfig{}, fmt.Errorf("day open: %w", err)
	}
	if cfg.DayClose, err = parseClock(close); err != nil {
		return SlotConfig{}, fmt.Errorf("day close: %w", err)
	}
	if cfg.DayClose <= cfg.DayOpen {
		return SlotConfig{}, fmt.Errorf("day close %s must be after day open %s", close, open)
	}
	if stepMinutes <= 0 {
		return SlotConfig{}, fmt.Errorf("step minutes must be positive, got %d", stepMinutes)
	}
	if bufferMinutes < 0 {
		return SlotConfig{}, fmt.Errorf("buffer minutes must not be negative, got %d", bufferMinutes)
	}
	cfg.StepMinutes = stepMinutes
	cfg.BufferMinutes = bufferMinutes
	return cfg, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// AvailableSlots walks the day grid for date and keeps every start whose
// interval fits inside business hours without colliding with an active
// appointment in appts. Same-day requests suppress candidates earlier
// than now plus the booking buffer. The result is chronologically
// ascending; a fully booked or already-ended day yields an empty slice,
// never an error.
func AvailableSlots(cfg SlotConfig, date time.Time, durationMinutes int, now time.Time, appts []*Appointment) []time.Time {
	day := startOfDay(date)
	opens := day.Add(cfg.DayOpen)
	closes := day.Add(cfg.DayClose)
	step := time.Duration(cfg.StepMinutes) * time.Minute
	dur := time.Duration(durationMinutes) * time.Minute

	first := opens
	if cutoff := now.Add(time.Duration(cfg.BufferMinutes) * time.Minute); cutoff.After(first) {
		first = alignUp(cutoff, opens, step)
	}

	slots := []time.Time{}
	for start := first; !start.Add(dur).After(closes); start = start.Add(step) {
		if len(ConflictingIDs(start, durationMinutes, appts, uuid.Nil)) == 0 {
			slots = append(slots, start)
		}
	}
	return slots
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// alignUp returns the first grid point at or after t, where the grid
// starts at origin and advances by step.
func alignUp(t, origin time.Time, step time.Duration) time.Time {
	if !t.After(origin) {
		return origin
	}
	offset := t.Sub(origin)
	steps := offset / step
	if offset%step != 0 {
		steps++
	}
	return origin.Add(steps * step)
}

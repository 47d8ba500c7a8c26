package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Appointment is a time-boxed booking between a doctor and a patient.
// The end of the booked interval is always derived from StartTime and
// DurationMinutes, never stored.
type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	StartTime       time.Time `db:"start_time" json:"start_time"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Status          Status    `db:"status" json:"status"`
	Reason          *string   `db:"reason" json:"reason,omitempty"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// EndTime returns the derived end of the booked interval.
func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// IsActive reports whether the appointment still occupies its interval
// for conflict purposes.
func (a *Appointment) IsActive() bool {
	return a.Status != StatusCancelled
}

// Clone returns a deep copy. Mutating operations build a new record from
// a clone so the loaded value is never changed in place.
func (a *Appointment) Clone() *Appointment {
	c := *a
	if a.Reason != nil {
		v := *a.Reason
		c.Reason = &v
	}
	if a.Notes != nil {
		v := *a.Notes
		c.Notes = &v
	}
	return &c
}

// Patch carries the optional fields an update may change. Nil fields are
// left untouched.
type Patch struct {
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Reason          *string    `json:"reason,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

// Apply builds a new record from a with the set fields of p. changed
// reports whether any field actually differs; intervalChanged reports
// whether the occupied time range moved, which decides whether a fresh
// conflict check is needed.
func (p Patch) Apply(a *Appointment) (next *Appointment, changed, intervalChanged bool) {
	next = a.Clone()
	if p.StartTime != nil && !p.StartTime.Equal(next.StartTime) {
		next.StartTime = *p.StartTime
		changed, intervalChanged = true, true
	}
	if p.DurationMinutes != nil && *p.DurationMinutes != next.DurationMinutes {
		next.DurationMinutes = *p.DurationMinutes
		changed, intervalChanged = true, true
	}
	if p.Reason != nil && (next.Reason == nil || *next.Reason != *p.Reason) {
		v := *p.Reason
		next.Reason = &v
		changed = true
	}
	if p.Notes != nil && (next.Notes == nil || *next.Notes != *p.Notes) {
		v := *p.Notes
		next.Notes = &v
		changed = true
	}
	return next, changed, intervalChanged
}

// ConflictReport is the read-only result of a dry-run conflict check,
// split by owner so a caller can tell whose calendar blocks the booking.
type ConflictReport struct {
	HasConflict        bool        `json:"has_conflict"`
	DoctorConflictIDs  []uuid.UUID `json:"doctor_conflict_ids,omitempty"`
	PatientConflictIDs []uuid.UUID `json:"patient_conflict_ids,omitempty"`
}

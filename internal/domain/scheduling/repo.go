package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository is the persistence boundary of the scheduler.
type AppointmentRepository interface {
	// InTx runs fn inside a single transaction. Repository calls made
	// with the context passed to fn join it; nested calls reuse the
	// enclosing transaction.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetByIDForUpdate locks the row for the rest of the enclosing
	// transaction so guard and lifecycle checks see a stable record.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// Delete removes the row outright. Administrative use only; the
	// normal way to retire a booking is a transition to CANCELLED.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListActiveByDoctor returns the doctor's non-cancelled appointments
	// whose interval overlaps [from, to), ordered by start time.
	ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
	// ListActiveByPatient is the patient-side counterpart.
	ListActiveByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error)

	// Search filters by the optional params doctor_id, patient_id,
	// status and date, returning one page plus the total row count.
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
}

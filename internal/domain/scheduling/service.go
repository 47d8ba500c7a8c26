package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultDurationMinutes applies when a candidate does not specify a
// duration.
const DefaultDurationMinutes = 30

// CreateInput carries the caller-supplied fields of a new booking.
type CreateInput struct {
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          *string   `json:"reason,omitempty"`
}

// Service orchestrates conflict detection, slot search, the status
// lifecycle and access control against the appointment store. Every
// mutating flow runs guard, validation, conflict and lifecycle checks
// before a single store write; read-modify-write flows hold a row lock
// for the duration of the decision.
type Service struct {
	repo   AppointmentRepository
	slots  SlotConfig
	events EventSink
	cache  *slotCache
	logger zerolog.Logger

	now func() time.Time
}

// NewService wires the scheduler. sink may be nil when nothing consumes
// lifecycle events.
func NewService(repo AppointmentRepository, slots SlotConfig, sink EventSink, logger zerolog.Logger) *Service {
	s := &Service{
		repo:   repo,
		slots:  slots,
		events: sink,
		logger: logger,
		now:    time.Now,
	}
	if slots.CacheSize > 0 {
		if c, err := newSlotCache(slots.CacheSize, slots.CacheTTL); err == nil {
			s.cache = c
		}
	}
	return s
}

// Create validates the candidate, checks both participants' calendars
// and persists a CONFIRMED appointment. The store's exclusion
// constraints re-enforce the non-overlap invariant against writers
// racing this transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := s.validateCandidate(&in); err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID:       in.PatientID,
		DoctorID:        in.DoctorID,
		StartTime:       in.StartTime,
		DurationMinutes: in.DurationMinutes,
		Status:          StatusConfirmed,
		Reason:          in.Reason,
	}

	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.ensureNoConflict(ctx, in.DoctorID, in.PatientID, in.StartTime, in.DurationMinutes, uuid.Nil); err != nil {
			return err
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Str("doctor_id", a.DoctorID.String()).
		Time("start", a.StartTime).Msg("appointment created")
	s.invalidateDay(a.DoctorID, a.StartTime)
	s.publish(ctx, EventCreated, a)
	return a, nil
}

// CreateWithSlotValidation additionally requires the start to sit on the
// currently free slot grid for that doctor and day. The conflict check
// still runs afterwards: a grid is a snapshot and may be stale by the
// time the booking lands.
func (s *Service) CreateWithSlotValidation(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := s.validateCandidate(&in); err != nil {
		return nil, err
	}
	slots, err := s.FindAvailableSlots(ctx, in.DoctorID, in.StartTime, in.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if !containsTime(slots, in.StartTime) {
		return nil, fmt.Errorf("%w: %s is not on the free slot grid", ErrSlotUnavailable,
			in.StartTime.Format("2006-01-02 15:04"))
	}
	return s.Create(ctx, in)
}

// Get loads one appointment, applying the full access policy.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(a) {
		return nil, fmt.Errorf("%w: user %s may not view appointment %s", ErrForbidden, actor.UserID, a.ID)
	}
	return a, nil
}

// Update applies a partial patch. A patch that changes nothing returns
// the stored record as-is without touching the store. Moving the
// interval re-runs the conflict check with the record itself excluded.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch, actor Actor) (*Appointment, error) {
	var result *Appointment
	var touched []time.Time

	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.CanManage(current) {
			return fmt.Errorf("%w: user %s may not modify appointment %s", ErrForbidden, actor.UserID, current.ID)
		}
		if !current.Status.IsModifiable() {
			return fmt.Errorf("%w: %s appointments cannot be modified", ErrInvalidState, current.Status)
		}

		next, changed, intervalChanged := patch.Apply(current)
		if !changed {
			result = current
			return nil
		}
		if intervalChanged {
			if next.DurationMinutes <= 0 {
				return fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
			}
			if !next.StartTime.After(s.now()) {
				return fmt.Errorf("%w: start_time must be in the future", ErrValidation)
			}
			if err := s.ensureNoConflict(ctx, next.DoctorID, next.PatientID, next.StartTime, next.DurationMinutes, next.ID); err != nil {
				return err
			}
			touched = append(touched, current.StartTime, next.StartTime)
		}
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, day := range touched {
		s.invalidateDay(result.DoctorID, day)
	}
	return result, nil
}

// Reschedule moves the booking to a new interval and marks it
// RESCHEDULED. The lifecycle table decides which states may still move.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newDurationMinutes *int, actor Actor) (*Appointment, error) {
	if newStart.IsZero() {
		return nil, fmt.Errorf("%w: start_time is required", ErrValidation)
	}
	if !newStart.After(s.now()) {
		return nil, fmt.Errorf("%w: start_time must be in the future", ErrValidation)
	}
	if newDurationMinutes != nil && *newDurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
	}

	var result *Appointment
	var oldStart time.Time

	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.CanManage(current) {
			return fmt.Errorf("%w: user %s may not reschedule appointment %s", ErrForbidden, actor.UserID, current.ID)
		}
		if !current.Status.CanTransitionTo(StatusRescheduled) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusRescheduled)
		}

		duration := current.DurationMinutes
		if newDurationMinutes != nil {
			duration = *newDurationMinutes
		}
		if err := s.ensureNoConflict(ctx, current.DoctorID, current.PatientID, newStart, duration, current.ID); err != nil {
			return err
		}

		next := current.Clone()
		next.StartTime = newStart
		next.DurationMinutes = duration
		next.Status = StatusRescheduled
		if err := s.repo.Update(ctx, next); err != nil {
			return err
		}
		oldStart = current.StartTime
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateDay(result.DoctorID, oldStart)
	s.invalidateDay(result.DoctorID, result.StartTime)
	s.publish(ctx, EventRescheduled, result)
	return result, nil
}

// TransitionStatus moves the appointment along the lifecycle table. Only
// the participants of record may decide outcomes; administrative roles
// are deliberately excluded on this path.
func (s *Service) TransitionStatus(ctx context.Context, id uuid.UUID, next Status, actor Actor) (*Appointment, error) {
	return s.transition(ctx, id, next, nil, actor)
}

// Confirm is the named wrapper for a transition to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, nil, actor)
}

// Start marks the visit as underway.
func (s *Service) Start(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.transition(ctx, id, StatusInProgress, nil, actor)
}

// Complete finishes an in-progress visit, optionally attaching notes.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, notes *string, actor Actor) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, notes, actor)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, next Status, notes *string, actor Actor) (*Appointment, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, string(next))
	}

	var result *Appointment
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsParticipant(current) {
			return fmt.Errorf("%w: only the doctor or patient of record may change the status of %s", ErrForbidden, current.ID)
		}
		if !current.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
		}

		upd := current.Clone()
		upd.Status = next
		if notes != nil {
			v := *notes
			upd.Notes = &v
		}
		if err := s.repo.Update(ctx, upd); err != nil {
			return err
		}
		result = upd
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case StatusCancelled:
		s.invalidateDay(result.DoctorID, result.StartTime)
		s.publish(ctx, EventCancelled, result)
	case StatusCompleted:
		s.publish(ctx, EventCompleted, result)
	}
	return result, nil
}

// Cancel retires the booking. Cancelling an appointment that is already
// terminal is an error, not a silent no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	var result *Appointment
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsParticipant(current) {
			return fmt.Errorf("%w: only the doctor or patient of record may cancel %s", ErrForbidden, current.ID)
		}
		if !current.Status.IsCancellable() {
			return fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidState, current.Status)
		}

		upd := current.Clone()
		upd.Status = StatusCancelled
		if err := s.repo.Update(ctx, upd); err != nil {
			return err
		}
		result = upd
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateDay(result.DoctorID, result.StartTime)
	s.publish(ctx, EventCancelled, result)
	return result, nil
}

// FindAvailableSlots returns the free grid for the doctor's day. The
// result may come from the slot cache; it is a best-effort hint either
// way, and booking re-validates against live data.
func (s *Service) FindAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, durationMinutes int) ([]time.Time, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	if durationMinutes == 0 {
		durationMinutes = DefaultDurationMinutes
	}
	if durationMinutes < 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
	}

	now := s.now()
	day := startOfDay(date)
	key := slotKey(doctorID, day, durationMinutes)
	if s.cache != nil {
		if slots, ok := s.cache.get(key, now); ok {
			return slots, nil
		}
	}

	appts, err := s.repo.ListActiveByDoctor(ctx, doctorID, day.Add(s.slots.DayOpen), day.Add(s.slots.DayClose))
	if err != nil {
		return nil, err
	}
	slots := AvailableSlots(s.slots, day, durationMinutes, now, appts)
	if s.cache != nil {
		s.cache.put(key, slots, now)
	}
	return slots, nil
}

// CheckConflicts is a read-only dry run of the booking decision: the
// same checks a create would run, with nothing persisted.
func (s *Service) CheckConflicts(ctx context.Context, in CreateInput) (*ConflictReport, error) {
	if err := s.validateCandidate(&in); err != nil {
		return nil, err
	}
	return s.conflictReport(ctx, in.DoctorID, in.PatientID, in.StartTime, in.DurationMinutes, uuid.Nil)
}

// List returns one filtered page of appointments plus the total count.
func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// Delete removes a record outright. Administrative escape hatch only.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor Actor) error {
	if actor.Role != RoleAdmin {
		return fmt.Errorf("%w: only admins may delete appointments", ErrForbidden)
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateDay(a.DoctorID, a.StartTime)
	return nil
}

func (s *Service) validateCandidate(in *CreateInput) error {
	if in.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if in.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	if in.StartTime.IsZero() {
		return fmt.Errorf("%w: start_time is required", ErrValidation)
	}
	if !in.StartTime.After(s.now()) {
		return fmt.Errorf("%w: start_time must be in the future", ErrValidation)
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = DefaultDurationMinutes
	}
	if in.DurationMinutes < 0 {
		return fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
	}
	return nil
}

// conflictReport fetches both owners' active bookings overlapping the
// candidate interval and runs the pure detector once per owner.
func (s *Service) conflictReport(ctx context.Context, doctorID, patientID uuid.UUID, start time.Time, durationMinutes int, excludeID uuid.UUID) (*ConflictReport, error) {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	doctorAppts, err := s.repo.ListActiveByDoctor(ctx, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	patientAppts, err := s.repo.ListActiveByPatient(ctx, patientID, start, end)
	if err != nil {
		return nil, err
	}

	report := &ConflictReport{
		DoctorConflictIDs:  ConflictingIDs(start, durationMinutes, doctorAppts, excludeID),
		PatientConflictIDs: ConflictingIDs(start, durationMinutes, patientAppts, excludeID),
	}
	report.HasConflict = len(report.DoctorConflictIDs) > 0 || len(report.PatientConflictIDs) > 0
	return report, nil
}

func (s *Service) ensureNoConflict(ctx context.Context, doctorID, patientID uuid.UUID, start time.Time, durationMinutes int, excludeID uuid.UUID) error {
	report, err := s.conflictReport(ctx, doctorID, patientID, start, durationMinutes, excludeID)
	if err != nil {
		return err
	}
	if len(report.DoctorConflictIDs) > 0 {
		return fmt.Errorf("%w: doctor has overlapping appointments %v", ErrConflict, report.DoctorConflictIDs)
	}
	if len(report.PatientConflictIDs) > 0 {
		return fmt.Errorf("%w: patient has overlapping appointments %v", ErrConflict, report.PatientConflictIDs)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, Event{Type: eventType, Appointment: a, OccurredAt: s.now()})
}

func (s *Service) invalidateDay(doctorID uuid.UUID, day time.Time) {
	if s.cache == nil {
		return
	}
	s.cache.invalidateDay(doctorID, startOfDay(day))
}

func containsTime(ts []time.Time, want time.Time) bool {
	for _, t := range ts {
		if t.Equal(want) {
			return true
		}
	}
	return false
}

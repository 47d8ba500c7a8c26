package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func apptAt(doctorID, patientID uuid.UUID, start time.Time, minutes int, status Status) *Appointment {
	return &Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		DoctorID:        doctorID,
		StartTime:       start,
		DurationMinutes: minutes,
		Status:          status,
	}
}

func TestConflictingIDs_Overlap(t *testing.T) {
	doctor, patient := uuid.New(), uuid.New()
	nine := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	existing := apptAt(doctor, patient, nine, 30, StatusConfirmed)

	// 09:15 overlaps the 09:00-09:30 booking.
	got := ConflictingIDs(nine.Add(15*time.Minute), 30, []*Appointment{existing}, uuid.Nil)
	if len(got) != 1 || got[0] != existing.ID {
		t.Errorf("expected conflict with %s, got %v", existing.ID, got)
	}

	// 09:30 starts exactly at the existing end: half-open intervals do
	// not touch.
	got = ConflictingIDs(nine.Add(30*time.Minute), 30, []*Appointment{existing}, uuid.Nil)
	if len(got) != 0 {
		t.Errorf("expected no conflict for back-to-back booking, got %v", got)
	}

	// Ending exactly at the existing start is also free.
	got = ConflictingIDs(nine.Add(-30*time.Minute), 30, []*Appointment{existing}, uuid.Nil)
	if len(got) != 0 {
		t.Errorf("expected no conflict before the booking, got %v", got)
	}
}

func TestConflictingIDs_ContainedAndSpanning(t *testing.T) {
	doctor, patient := uuid.New(), uuid.New()
	nine := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	existing := apptAt(doctor, patient, nine, 60, StatusConfirmed)

	// Candidate inside the existing interval.
	if got := ConflictingIDs(nine.Add(15*time.Minute), 15, []*Appointment{existing}, uuid.Nil); len(got) != 1 {
		t.Errorf("expected contained candidate to conflict, got %v", got)
	}
	// Candidate spanning the whole existing interval.
	if got := ConflictingIDs(nine.Add(-30*time.Minute), 180, []*Appointment{existing}, uuid.Nil); len(got) != 1 {
		t.Errorf("expected spanning candidate to conflict, got %v", got)
	}
}

func TestConflictingIDs_SkipsExcludedAndCancelled(t *testing.T) {
	doctor, patient := uuid.New(), uuid.New()
	nine := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)

	self := apptAt(doctor, patient, nine, 30, StatusConfirmed)
	cancelled := apptAt(doctor, patient, nine, 30, StatusCancelled)

	// Validating an edit against itself must not self-collide.
	if got := ConflictingIDs(nine, 30, []*Appointment{self}, self.ID); len(got) != 0 {
		t.Errorf("expected excluded id to be skipped, got %v", got)
	}
	// Cancelled bookings no longer occupy their interval.
	if got := ConflictingIDs(nine, 30, []*Appointment{cancelled}, uuid.Nil); len(got) != 0 {
		t.Errorf("expected cancelled booking to be skipped, got %v", got)
	}
}

func TestConflictingIDs_MultipleCollisions(t *testing.T) {
	doctor, patient := uuid.New(), uuid.New()
	nine := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)

	first := apptAt(doctor, patient, nine, 30, StatusConfirmed)
	second := apptAt(doctor, patient, nine.Add(30*time.Minute), 30, StatusRescheduled)

	got := ConflictingIDs(nine.Add(15*time.Minute), 30, []*Appointment{first, second}, uuid.Nil)
	if len(got) != 2 {
		t.Fatalf("expected two collisions, got %v", got)
	}
}

package scheduling

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanManage(t *testing.T) {
	doctor, patient, stranger := uuid.New(), uuid.New(), uuid.New()
	appt := &Appointment{ID: uuid.New(), DoctorID: doctor, PatientID: patient}

	cases := []struct {
		name  string
		actor Actor
		want  bool
	}{
		{"admin always", Actor{UserID: stranger, Role: RoleAdmin}, true},
		{"assistant always", Actor{UserID: stranger, Role: RoleAssistant}, true},
		{"own doctor", Actor{UserID: doctor, Role: RoleDoctor}, true},
		{"other doctor", Actor{UserID: stranger, Role: RoleDoctor}, false},
		{"own patient", Actor{UserID: patient, Role: RolePatient}, true},
		{"other patient", Actor{UserID: stranger, Role: RolePatient}, false},
		{"unknown role", Actor{UserID: doctor, Role: Role("AUDITOR")}, false},
	}
	for _, tc := range cases {
		if got := tc.actor.CanManage(appt); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsParticipant(t *testing.T) {
	doctor, patient, stranger := uuid.New(), uuid.New(), uuid.New()
	appt := &Appointment{ID: uuid.New(), DoctorID: doctor, PatientID: patient}

	if !(Actor{UserID: doctor, Role: RoleDoctor}).IsParticipant(appt) {
		t.Error("doctor of record must be a participant")
	}
	if !(Actor{UserID: patient, Role: RolePatient}).IsParticipant(appt) {
		t.Error("patient of record must be a participant")
	}
	// Administrative roles do not get outcome rights on appointments
	// they are not part of. This is intentionally narrower than
	// CanManage.
	if (Actor{UserID: stranger, Role: RoleAdmin}).IsParticipant(appt) {
		t.Error("admin must not be a participant of someone else's appointment")
	}
	if (Actor{UserID: stranger, Role: RoleAssistant}).IsParticipant(appt) {
		t.Error("assistant must not be a participant of someone else's appointment")
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("doctor")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != RoleDoctor {
		t.Errorf("expected DOCTOR, got %s", r)
	}

	if _, err := ParseRole("superuser"); err == nil {
		t.Error("expected error for unknown role")
	}
}

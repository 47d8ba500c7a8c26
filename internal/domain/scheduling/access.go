package scheduling

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the coarse authorization role an actor carries.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleAssistant Role = "ASSISTANT"
	RoleDoctor    Role = "DOCTOR"
	RolePatient   Role = "PATIENT"
)

var knownRoles = map[Role]bool{
	RoleAdmin:     true,
	RoleAssistant: true,
	RoleDoctor:    true,
	RolePatient:   true,
}

// ParseRole converts a wire string into a Role.
func ParseRole(v string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(v)))
	if !knownRoles[r] {
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, v)
	}
	return r, nil
}

// Actor is the already-verified identity a mutation runs as. Token
// parsing happens at the HTTP edge; the core only ever sees the resolved
// pair.
type Actor struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}

// CanManage is the full access policy, used for reads, updates and
// reschedules: admins and assistants always, the doctor or patient of
// record for their own appointments, nobody else.
func (act Actor) CanManage(a *Appointment) bool {
	switch act.Role {
	case RoleAdmin, RoleAssistant:
		return true
	case RoleDoctor:
		return act.UserID == a.DoctorID
	case RolePatient:
		return act.UserID == a.PatientID
	default:
		return false
	}
}

// IsParticipant is the narrower policy for outcome decisions (cancel,
// complete, status transitions): only the doctor or patient of record.
// Administrative roles are deliberately not enough on these paths, and
// the two policies are applied per operation, never unified.
func (act Actor) IsParticipant(a *Appointment) bool {
	return act.UserID == a.DoctorID || act.UserID == a.PatientID
}

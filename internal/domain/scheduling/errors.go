package scheduling

import "errors"

// Error kinds returned by the scheduling core. Every rejected operation
// wraps one of these so callers can discriminate with errors.Is; the HTTP
// layer maps them onto status codes.
var (
	ErrNotFound          = errors.New("appointment not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("scheduling conflict")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidState      = errors.New("invalid appointment state")
)

package services

import "errors"

// Sentinel errors shared across services. Handlers translate these to
// HTTP statuses; anything else is a generic 500.
var (
	ErrValidation        = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("access denied")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPhaseLocked       = errors.New("already finalized")
	ErrAlreadySummarized = errors.New("conversation already summarized")
	ErrMessageTooLong    = errors.New("message exceeds maximum length")
	ErrTurnFailed        = errors.New("failed to generate response")
	ErrConflict          = errors.New("conversation was modified concurrently")
)

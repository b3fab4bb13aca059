package hold

import "errors"

var (
	ErrValidation      = errors.New("validation error")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot not available")
	ErrHoldExists      = errors.New("hold already exists for payment reference")
	// ErrConflict marks an overlapping hold. It is resolved by eviction and
	// only ever logged.
	ErrConflict = errors.New("overlapping hold")
)

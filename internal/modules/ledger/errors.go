package ledger

import "errors"

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrGiftCardNotFound  = errors.New("gift card not found")
	ErrGiftCardNotPaid   = errors.New("gift card is not paid")
	ErrDiscountNotFound  = errors.New("discount not found")
	ErrDiscountInvalid   = errors.New("discount not applicable")
	ErrDiscountExhausted = errors.New("discount exhausted")
	// ErrLedgerInvariant is returned when an effect had to be clamped or
	// skipped. The booking it belongs to is still final.
	ErrLedgerInvariant = errors.New("ledger invariant violation")
)

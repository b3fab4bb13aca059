package payment

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	// ErrProviderCommunication wraps every failed call to a payment provider.
	ErrProviderCommunication = errors.New("payment provider communication failed")
	// ErrReconciliationMismatch marks a callback that matched no live hold or
	// slot. It is logged, never returned to the provider.
	ErrReconciliationMismatch = errors.New("callback does not match any hold")
	ErrUnauthorizedCallback   = errors.New("callback authorization mismatch")
	ErrMalformedCallback      = errors.New("malformed callback payload")
	ErrNothingToCharge        = errors.New("gift card covers the full amount")
	ErrGiftCardShortfall      = errors.New("gift card does not cover the full amount")
)

// StatusError is an unexpected HTTP status from a provider.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Provider, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrProviderCommunication }

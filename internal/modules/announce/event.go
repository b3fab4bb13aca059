package announce

import (
	"context"
	"time"
)

const (
	EventHoldsChanged   = "holds.changed"
	EventSlotsBooked    = "slots.booked"
	EventSlotsReleased  = "slots.released"
	EventReconcileError = "reconciliation.error"
)

// Event is a state-change notice pushed to observers. Delivery is
// at-most-once.
type Event struct {
	Type       string    `json:"type"`
	PaymentRef string    `json:"payment_ref,omitempty"`
	SlotKeys   []string  `json:"slot_keys,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Package notify delivers booking and gift card confirmations. Messages go
// through the booking.confirmed queue when a broker is configured and are
// mailed directly otherwise.
package notify

import (
	"context"
	"time"
)

const (
	QueueBookingConfirmed = "booking.confirmed"

	TypeBookingConfirmed = "booking.confirmed"
	TypeGiftCardIssued   = "giftcard.issued"
)

type BookingConfirmation struct {
	BookingRef      string    `json:"booking_ref"`
	PaymentRef      string    `json:"payment_ref"`
	Provider        string    `json:"provider"`
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email"`
	Phone           string    `json:"phone,omitempty"`
	Players         int       `json:"players"`
	SlotKeys        []string  `json:"slot_keys"`
	Total           int64     `json:"total"`
	Charged         int64     `json:"charged"`
	GiftCardDebited int64     `json:"gift_card_debited"`
	DiscountCode    string    `json:"discount_code,omitempty"`
	BookedAt        time.Time `json:"booked_at"`
}

type GiftCardIssued struct {
	Reference      string `json:"reference"`
	Amount         int64  `json:"amount"`
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email"`
	BuyerEmail     string `json:"buyer_email"`
}

// Message is the queue envelope. Exactly one payload is set.
type Message struct {
	Type     string               `json:"type"`
	Booking  *BookingConfirmation `json:"booking,omitempty"`
	GiftCard *GiftCardIssued      `json:"gift_card,omitempty"`
	SentAt   time.Time            `json:"sent_at"`
}

type Notifier interface {
	BookingConfirmed(ctx context.Context, c BookingConfirmation) error
	GiftCardIssued(ctx context.Context, g GiftCardIssued) error
}

// Sender delivers a single plain text email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

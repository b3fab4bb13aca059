package payment

import (
	"time"

	"escaperoom/internal/modules/hold"
)

type CheckoutRequest struct {
	SlotKeys     []string            `json:"slot_keys" validate:"required,min=1,max=10,dive,slotkey" example:"2026-June-12-SUBMARINE-17:00"`
	DiscountCode string              `json:"discount_code" validate:"omitempty,max=64" example:"SUMMER26"`
	GiftCardRef  string              `json:"gift_card_ref" validate:"omitempty,max=64" example:"GC4F1A9C02B7"`
	Customer     hold.CustomerRequest `json:"customer" validate:"required"`
}

type CheckoutResponse struct {
	PaymentRef     string    `json:"payment_ref"`
	Provider       string    `json:"provider"`
	Total          int64     `json:"total"`
	GiftCardCovers int64     `json:"gift_card_covers"`
	Amount         int64     `json:"amount"`
	CheckoutURL    string    `json:"checkout_url,omitempty"`
	Token          string    `json:"token,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	SlotKeys       []string  `json:"slot_keys"`
	Evicted        []string  `json:"evicted,omitempty"`
	BookingRef     string    `json:"booking_ref,omitempty"`
}

type GiftCardPurchaseRequest struct {
	Provider       string `json:"provider" validate:"required,oneof=nets swish" example:"swish"`
	Amount         int64  `json:"amount" validate:"required,gt=0,lte=100000" example:"1500"`
	RecipientName  string `json:"recipient_name" validate:"required,max=255" example:"Alva Berg"`
	RecipientEmail string `json:"recipient_email" validate:"required,email" example:"alva@example.se"`
	BuyerEmail     string `json:"buyer_email" validate:"required,email" example:"anna@example.se"`
}

type GiftCardPurchaseResponse struct {
	PaymentRef  string `json:"payment_ref"`
	GiftCardRef string `json:"gift_card_ref"`
	Amount      int64  `json:"amount"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	Token       string `json:"token,omitempty"`
}

type WebhookResponse struct {
	Received bool   `json:"received" example:"true"`
	Action   string `json:"action,omitempty" example:"booked"`
}

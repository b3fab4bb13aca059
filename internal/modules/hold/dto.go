package hold

import (
	"time"

	"escaperoom/internal/domain"
)

type CustomerRequest struct {
	Name    string `json:"name" validate:"required,max=255" example:"Anna Svensson"`
	Phone   string `json:"phone" validate:"omitempty,max=64" example:"+46701234567"`
	Email   string `json:"email" validate:"required,email" example:"anna@example.se"`
	Players int    `json:"players" validate:"gte=0,lte=12" example:"4"`
	Info    string `json:"info" validate:"omitempty,max=2000"`
}

func (c CustomerRequest) toDomain() domain.Customer {
	return domain.Customer{Name: c.Name, Phone: c.Phone, Email: c.Email, Players: c.Players, Info: c.Info}
}

type CreateHoldRequest struct {
	PaymentRef   string              `json:"payment_ref" validate:"omitempty,max=128" example:"0262000064f1e2c2ad0b1f6d3f9e46a4"`
	SlotKeys     []string            `json:"slot_keys" validate:"required,min=1,max=10,dive,slotkey" example:"2026-June-12-SUBMARINE-17:00"`
	DiscountCode string              `json:"discount_code" validate:"omitempty,max=64" example:"SUMMER26"`
	GiftCardRef  string              `json:"gift_card_ref" validate:"omitempty,max=64"`
	Provider     domain.ProviderKind `json:"provider" validate:"omitempty,oneof=nets swish giftcard" example:"nets"`
	Customer     CustomerRequest     `json:"customer" validate:"required"`
}

type CreateHoldResponse struct {
	PaymentRef string    `json:"payment_ref"`
	CreatedAt  time.Time `json:"created_at"`
	SlotKeys   []string  `json:"slot_keys"`
	Evicted    []string  `json:"evicted,omitempty"`
}

type ListHoldsResponse struct {
	Holds []Hold `json:"holds"`
	Count int    `json:"count"`
}

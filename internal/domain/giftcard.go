package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	GiftCardTxnDebit = "DEBIT"
	GiftCardTxnIssue = "ISSUE"
	GiftCardTxnClamp = "CLAMP"
)

type GiftCard struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Reference      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`
	Balance        int64      `gorm:"not null;default:0" json:"balance"`
	InitialAmount  int64      `gorm:"not null;default:0" json:"initial_amount"`
	RecipientName  string     `gorm:"type:varchar(255)" json:"recipient_name"`
	RecipientEmail string     `gorm:"type:varchar(255)" json:"recipient_email"`
	BuyerEmail     string     `gorm:"type:varchar(255)" json:"buyer_email"`
	Paid           bool       `gorm:"not null;default:false" json:"paid"`
	PaymentRef     *string    `gorm:"type:varchar(128);index" json:"payment_ref,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (GiftCard) TableName() string { return "gift_cards" }

func (g *GiftCard) BeforeCreate(_ *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

// GiftCardTransaction records every balance change of a gift card.
type GiftCardTransaction struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	GiftCardID uuid.UUID `gorm:"type:uuid;not null;index" json:"gift_card_id"`
	Amount     int64     `gorm:"not null" json:"amount"`
	Type       string    `gorm:"type:varchar(16);not null;index" json:"type"`
	BookingRef string    `gorm:"type:varchar(64);index" json:"booking_ref"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (GiftCardTransaction) TableName() string { return "gift_card_transactions" }

func (t *GiftCardTransaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

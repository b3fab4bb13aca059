package domain

import "time"

const (
	AlertPaidWithoutBooking = "PAYMENT_WITHOUT_BOOKING"
	AlertLedgerFailure      = "LEDGER_EFFECT_FAILED"
	AlertOrphanedSlots      = "ORPHANED_SLOTS"
	AlertUnderpaid          = "PAYMENT_BELOW_TOTAL"
	AlertUnconfirmedPayment = "PAYMENT_UNCONFIRMED"
	AlertPartialBooking     = "PARTIAL_BOOKING"
)

type CriticalAlert struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	Type          string     `gorm:"type:varchar(64);not null;index" json:"type"`
	Severity      string     `gorm:"type:varchar(16);not null;default:'CRITICAL'" json:"severity"`
	PaymentRef    string     `gorm:"type:varchar(128);index" json:"payment_ref"`
	Amount        int64      `json:"amount"`
	PaymentMethod string     `gorm:"type:varchar(16)" json:"payment_method"`
	CustomerEmail string     `gorm:"type:varchar(255)" json:"customer_email"`
	Message       string     `gorm:"type:text" json:"message"`
	Webhook       string     `gorm:"type:text" json:"webhook,omitempty"`
	Acknowledged  bool       `gorm:"not null;default:false;index" json:"acknowledged"`
	AckedAt       *time.Time `json:"acked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (CriticalAlert) TableName() string { return "critical_alerts" }

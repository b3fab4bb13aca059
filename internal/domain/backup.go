package domain

import "time"

type BackupSource string

const (
	BackupPaymentInitialize BackupSource = "paymentInitialize"
	BackupCancelled         BackupSource = "cancelled"
)

// SlotBackup is the pre-hold snapshot of a slot's mutable fields.
// (slot_key, payment_ref) is unique.
type SlotBackup struct {
	ID         int64        `gorm:"primaryKey" json:"id"`
	SlotKey    string       `gorm:"type:varchar(96);not null;uniqueIndex:idx_backup_key_ref" json:"slot_key"`
	PaymentRef string       `gorm:"type:varchar(128);not null;uniqueIndex:idx_backup_key_ref;index" json:"payment_ref"`
	Source     BackupSource `gorm:"type:varchar(32);not null" json:"source"`

	Available     Availability `gorm:"type:varchar(16);not null" json:"available"`
	Cost          int64        `json:"cost"`
	Players       int          `json:"players"`
	BookedBy      *string      `gorm:"type:varchar(255)" json:"booked_by,omitempty"`
	ContactNumber *string      `gorm:"type:varchar(64)" json:"contact_number,omitempty"`
	ContactEmail  *string      `gorm:"type:varchar(255)" json:"contact_email,omitempty"`
	Info          *string      `gorm:"type:text" json:"info,omitempty"`
	Discount      int64        `json:"discount"`
	Offer         string       `gorm:"type:varchar(64)" json:"offer,omitempty"`

	// CreatedAt is stored in UTC; CreatedAtLocal is the same instant rendered
	// in the display timezone.
	CreatedAt      time.Time `json:"created_at"`
	CreatedAtLocal string    `gorm:"type:varchar(40)" json:"created_at_local"`
}

func (SlotBackup) TableName() string { return "slot_backups" }

// NewSlotBackup snapshots the mutable fields of s.
func NewSlotBackup(s *Slot, paymentRef string, source BackupSource, at time.Time, loc *time.Location) *SlotBackup {
	if loc == nil {
		loc = time.UTC
	}
	return &SlotBackup{
		SlotKey:        s.SlotKey,
		PaymentRef:     paymentRef,
		Source:         source,
		Available:      s.Available,
		Cost:           s.Cost,
		Players:        s.Players,
		BookedBy:       s.BookedBy,
		ContactNumber:  s.ContactNumber,
		ContactEmail:   s.ContactEmail,
		Info:           s.Info,
		Discount:       s.Discount,
		Offer:          s.Offer,
		CreatedAt:      at.UTC(),
		CreatedAtLocal: at.In(loc).Format(time.RFC3339),
	}
}

// RestoreFields is the column set that puts a slot back to the snapshot and
// detaches it from any payment.
func (b *SlotBackup) RestoreFields() map[string]interface{} {
	return map[string]interface{}{
		"available":      SlotOpen,
		"cost":           b.Cost,
		"players":        b.Players,
		"booked_by":      b.BookedBy,
		"contact_number": b.ContactNumber,
		"contact_email":  b.ContactEmail,
		"info":           b.Info,
		"discount":       b.Discount,
		"offer":          b.Offer,
		"payment_ref":    nil,
		"discount_code":  nil,
		"gift_card_ref":  nil,
		"booking_ref":    nil,
		"payed_via":      nil,
		"booked_at":      nil,
		"held_at":        nil,
	}
}

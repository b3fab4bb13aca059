package domain

import (
	"strings"
	"time"
)

type DiscountUsageType string

const (
	DiscountUnlimited DiscountUsageType = "unlimited"
	DiscountSingle    DiscountUsageType = "single"
)

type DiscountUsageStatus string

const (
	DiscountReserved DiscountUsageStatus = "reserved"
	DiscountConsumed DiscountUsageStatus = "consumed"
)

type Discount struct {
	ID         int64             `gorm:"primaryKey" json:"id"`
	Code       string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Percent    int               `gorm:"not null;default:0" json:"percent"`
	AmountOff  int64             `gorm:"not null;default:0" json:"amount_off"`
	UsageType  DiscountUsageType `gorm:"type:varchar(16);not null;default:'unlimited'" json:"usage_type"`
	UsageCount int               `gorm:"not null;default:0" json:"usage_count"`
	MaxUses    int               `gorm:"not null;default:0" json:"max_uses"`
	ValidFrom  *time.Time        `json:"valid_from,omitempty"`
	ValidTo    *time.Time        `json:"valid_to,omitempty"`
	MinPlayers int               `gorm:"not null;default:0" json:"min_players"`
	MinAmount  int64             `gorm:"not null;default:0" json:"min_amount"`
	// Categories is a comma separated allow-list; empty means every category.
	Categories string    `gorm:"type:text" json:"categories"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Discount) TableName() string { return "discounts" }

// Exhausted reports whether another usage would break the usage limits.
func (d *Discount) Exhausted() bool {
	if d.UsageType == DiscountSingle && d.UsageCount >= 1 {
		return true
	}
	return d.MaxUses > 0 && d.UsageCount >= d.MaxUses
}

func (d *Discount) AllowsCategory(category string) bool {
	if strings.TrimSpace(d.Categories) == "" {
		return true
	}
	for _, c := range strings.Split(d.Categories, ",") {
		if strings.EqualFold(strings.TrimSpace(c), category) {
			return true
		}
	}
	return false
}

// Apply returns total after the discount, never below zero.
func (d *Discount) Apply(total int64) int64 {
	out := total
	if d.Percent > 0 {
		out = total * int64(100-d.Percent) / 100
	}
	out -= d.AmountOff
	if out < 0 {
		return 0
	}
	return out
}

type DiscountUsage struct {
	ID         int64               `gorm:"primaryKey" json:"id"`
	Code       string              `gorm:"type:varchar(64);not null;uniqueIndex:idx_discount_usage_ref" json:"code"`
	PaymentRef string              `gorm:"type:varchar(128);not null;uniqueIndex:idx_discount_usage_ref" json:"payment_ref"`
	BookingRef *string             `gorm:"type:varchar(64)" json:"booking_ref,omitempty"`
	Status     DiscountUsageStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (DiscountUsage) TableName() string { return "discount_usages" }

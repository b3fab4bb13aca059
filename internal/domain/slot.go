package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Availability string

const (
	SlotOpen   Availability = "open"
	SlotHeld   Availability = "held"
	SlotBooked Availability = "booked"
)

type ProviderKind string

const (
	ProviderNets     ProviderKind = "nets"
	ProviderSwish    ProviderKind = "swish"
	ProviderGiftCard ProviderKind = "giftcard"
)

func (k ProviderKind) Valid() bool {
	return k == ProviderNets || k == ProviderSwish || k == ProviderGiftCard
}

var ErrInvalidSlotKey = errors.New("invalid slot key")

// SlotKey identifies one bookable slot: a room category at a given date and time.
type SlotKey struct {
	Year     int
	Month    time.Month
	Day      int
	Category string
	Time     string
}

// String renders the key as "<year>-<MonthName>-<day>-<CATEGORY>-<HH:MM>".
func (k SlotKey) String() string {
	return fmt.Sprintf("%d-%s-%d-%s-%s", k.Year, k.Month.String(), k.Day, k.Category, k.Time)
}

// ParseSlotKey is the inverse of SlotKey.String. Category names may contain
// spaces but never dashes.
func ParseSlotKey(s string) (SlotKey, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 5 {
		return SlotKey{}, fmt.Errorf("%w: %q", ErrInvalidSlotKey, s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return SlotKey{}, fmt.Errorf("%w: year %q", ErrInvalidSlotKey, parts[0])
	}
	month, ok := parseMonth(parts[1])
	if !ok {
		return SlotKey{}, fmt.Errorf("%w: month %q", ErrInvalidSlotKey, parts[1])
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil || day < 1 || day > 31 {
		return SlotKey{}, fmt.Errorf("%w: day %q", ErrInvalidSlotKey, parts[2])
	}
	if parts[3] == "" {
		return SlotKey{}, fmt.Errorf("%w: empty category", ErrInvalidSlotKey)
	}
	if _, err := time.Parse("15:04", parts[4]); err != nil {
		return SlotKey{}, fmt.Errorf("%w: time %q", ErrInvalidSlotKey, parts[4])
	}
	return SlotKey{Year: year, Month: month, Day: day, Category: parts[3], Time: parts[4]}, nil
}

func parseMonth(name string) (time.Month, bool) {
	for m := time.January; m <= time.December; m++ {
		if strings.EqualFold(m.String(), name) {
			return m, true
		}
	}
	return 0, false
}

// Slot is the durable booking record of one SlotKey.
type Slot struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	SlotKey  string `gorm:"type:varchar(96);uniqueIndex;not null" json:"slot_key"`
	Year     int    `gorm:"not null;uniqueIndex:idx_slot_identity" json:"year"`
	Month    int    `gorm:"not null;uniqueIndex:idx_slot_identity" json:"month"`
	Day      int    `gorm:"not null;uniqueIndex:idx_slot_identity" json:"day"`
	Category string `gorm:"type:varchar(64);not null;uniqueIndex:idx_slot_identity" json:"category"`
	Time     string `gorm:"type:varchar(5);not null;uniqueIndex:idx_slot_identity" json:"time"`

	// Price is the list price set at inventory generation; Cost is what the
	// current booking is charged and is zeroed when the slot is released.
	Price         int64        `gorm:"not null;default:0" json:"price"`
	Available     Availability `gorm:"type:varchar(16);not null;default:'open';index" json:"available"`
	Cost          int64        `gorm:"not null;default:0" json:"cost"`
	Players       int          `gorm:"not null;default:0" json:"players"`
	BookedBy      *string      `gorm:"type:varchar(255)" json:"booked_by,omitempty"`
	ContactNumber *string      `gorm:"type:varchar(64)" json:"contact_number,omitempty"`
	ContactEmail  *string      `gorm:"type:varchar(255)" json:"contact_email,omitempty"`
	Info          *string      `gorm:"type:text" json:"info,omitempty"`
	PaymentRef    *string      `gorm:"type:varchar(128);index" json:"payment_ref,omitempty"`
	Discount      int64        `gorm:"not null;default:0" json:"discount"`
	Offer         string       `gorm:"type:varchar(64)" json:"offer,omitempty"`
	DiscountCode  *string      `gorm:"type:varchar(64)" json:"discount_code,omitempty"`
	GiftCardRef   *string      `gorm:"type:varchar(64)" json:"gift_card_ref,omitempty"`
	BookingRef    *string      `gorm:"type:varchar(64);index" json:"booking_ref,omitempty"`
	PayedVia      *string      `gorm:"type:varchar(16)" json:"payed_via,omitempty"`
	BookedAt      *time.Time   `json:"booked_at,omitempty"`
	HeldAt        *time.Time   `gorm:"index" json:"held_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (Slot) TableName() string { return "slots" }

func (s *Slot) Key() SlotKey {
	return SlotKey{Year: s.Year, Month: time.Month(s.Month), Day: s.Day, Category: s.Category, Time: s.Time}
}

func (s *Slot) BeforeSave(_ *gorm.DB) error {
	if s.Year != 0 && s.SlotKey == "" {
		s.SlotKey = s.Key().String()
	}
	return nil
}

// Customer carries the contact fields written onto held slots.
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Players int    `json:"players"`
	Info    string `json:"info"`
}

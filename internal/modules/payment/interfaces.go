package payment

import (
	"context"
	"encoding/json"

	"escaperoom/internal/domain"
	"escaperoom/internal/modules/hold"
	"escaperoom/internal/modules/ledger"
)

type SlotStore interface {
	FindByKeys(ctx context.Context, keys []string) ([]domain.Slot, error)
	FindByPaymentRef(ctx context.Context, ref string) ([]domain.Slot, error)
	UpdateManyByPaymentRef(ctx context.Context, ref string, only domain.Availability, fields map[string]interface{}) (int64, error)
}

type BackupLedger interface {
	DeleteByRef(ctx context.Context, ref string) (int64, error)
}

type Holds interface {
	Get(ref string) (hold.Hold, bool)
	Remove(ref string) (hold.Hold, bool)
	RestoreSlots(ctx context.Context, ref string, keys []string) ([]string, error)
	CreateHold(ctx context.Context, req hold.CreateHoldRequest) (*hold.CreateHoldResponse, error)
	HoldGiftCardPurchase(ctx context.Context, paymentRef, giftCardRef string, provider domain.ProviderKind) (hold.Hold, error)
}

type Ledger interface {
	Quote(ctx context.Context, code string, total int64, players int, categories []string) (int64, error)
	ApplyDiscount(ctx context.Context, code string, total int64) (int64, error)
	SpendableBalance(ctx context.Context, ref string) (int64, error)
	DebitGiftCard(ctx context.Context, ref string, amount int64, bookingRef string) (*ledger.GiftCardDebit, error)
	ConsumeDiscount(ctx context.Context, code, paymentRef, bookingRef string) error
	ReleaseDiscount(ctx context.Context, code, paymentRef string) error
	IssueGiftCard(ctx context.Context, req ledger.IssueGiftCardRequest) (*domain.GiftCard, error)
	AttachPayment(ctx context.Context, ref, paymentRef string) error
	MarkGiftCardPaid(ctx context.Context, paymentRef string) (bool, error)
	FindGiftCardByPayment(ctx context.Context, paymentRef string) (*domain.GiftCard, error)
}

type AlertRaiser interface {
	Raise(ctx context.Context, a domain.CriticalAlert) error
}

// NetsLookup fetches a raw Nets payment document.
type NetsLookup interface {
	GetPayment(ctx context.Context, ref string) (json.RawMessage, error)
}

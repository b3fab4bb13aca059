package hold

import (
	"context"

	"escaperoom/internal/domain"
	"escaperoom/internal/modules/dispatch"
	"escaperoom/internal/repository"
)

type SlotStore interface {
	FindByKeys(ctx context.Context, keys []string) ([]domain.Slot, error)
	MarkHeld(ctx context.Context, keys []string, ref string, fields map[string]interface{}) error
	UpdateSlot(ctx context.Context, filter repository.SlotFilter, fields map[string]interface{}) (int64, error)
}

type BackupLedger interface {
	Create(ctx context.Context, b *domain.SlotBackup) error
	FindByRef(ctx context.Context, ref string) ([]domain.SlotBackup, error)
	DeleteByRef(ctx context.Context, ref string) (int64, error)
	Retag(ctx context.Context, ref string, source domain.BackupSource) (int64, error)
}

type DiscountReserver interface {
	ReserveDiscount(ctx context.Context, code, paymentRef string) error
	ReleaseDiscount(ctx context.Context, code, paymentRef string) error
}

// PaymentCanceller asks a provider to cancel an unpaid payment.
type PaymentCanceller interface {
	Cancel(ctx context.Context, provider domain.ProviderKind, paymentRef string) error
}

type Dispatcher interface {
	Submit(name string, fn dispatch.Func) bool
	SubmitOnce(name string, fn dispatch.Func) bool
}

package sweeper

import (
	"context"
	"time"

	"escaperoom/internal/domain"
	"escaperoom/internal/modules/hold"
	"escaperoom/internal/repository"
)

type Holds interface {
	Get(ref string) (hold.Hold, bool)
	Expire(now time.Time, threshold time.Duration, fn func(hold.Hold) bool) int
}

type SlotStore interface {
	FindHeldBefore(ctx context.Context, cutoff time.Time) ([]domain.Slot, error)
	UpdateSlot(ctx context.Context, filter repository.SlotFilter, fields map[string]interface{}) (int64, error)
}

type BackupLedger interface {
	FindByRef(ctx context.Context, ref string) ([]domain.SlotBackup, error)
	FindLatestByKey(ctx context.Context, key string) (*domain.SlotBackup, error)
	DeleteByRef(ctx context.Context, ref string) (int64, error)
}

// Terminator abandons the provider payment of an expired hold.
type Terminator interface {
	Terminate(ctx context.Context, provider domain.ProviderKind, paymentRef string) error
}

type DiscountReleaser interface {
	ReleaseDiscount(ctx context.Context, code, paymentRef string) error
}

type AlertRaiser interface {
	Raise(ctx context.Context, a domain.CriticalAlert) error
}

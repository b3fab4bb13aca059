package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"escaperoom/internal/domain"
)

type AlertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(ctx context.Context, a *domain.CriticalAlert) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *AlertRepository) ListUnacknowledged(ctx context.Context, limit int) ([]domain.CriticalAlert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var alerts []domain.CriticalAlert
	err := r.db.WithContext(ctx).
		Where("acknowledged = ?", false).
		Order("created_at desc").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// Acknowledge reports false when the alert does not exist or was already
// acknowledged.
func (r *AlertRepository) Acknowledge(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.CriticalAlert{}).
		Where("id = ? AND acknowledged = ?", id, false).
		Updates(map[string]interface{}{"acknowledged": true, "acked_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

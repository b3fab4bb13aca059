package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"escaperoom/internal/domain"
)

var ErrSlotsUnavailable = errors.New("one or more slots are not available")

type SlotRepository struct {
	db *gorm.DB
}

func NewSlotRepository(db *gorm.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

// SlotFilter narrows a filtered update. Empty fields are ignored.
type SlotFilter struct {
	Key        string
	PaymentRef string
	Available  domain.Availability
}

func (f SlotFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Key != "" {
		q = q.Where("slot_key = ?", f.Key)
	}
	if f.PaymentRef != "" {
		q = q.Where("payment_ref = ?", f.PaymentRef)
	}
	if f.Available != "" {
		q = q.Where("available = ?", f.Available)
	}
	return q
}

func (r *SlotRepository) FindByKey(ctx context.Context, key string) (*domain.Slot, error) {
	var s domain.Slot
	if err := r.db.WithContext(ctx).Where("slot_key = ?", key).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SlotRepository) FindByKeys(ctx context.Context, keys []string) ([]domain.Slot, error) {
	var slots []domain.Slot
	if len(keys) == 0 {
		return slots, nil
	}
	if err := r.db.WithContext(ctx).Where("slot_key IN ?", keys).Order("slot_key").Find(&slots).Error; err != nil {
		return nil, err
	}
	return slots, nil
}

func (r *SlotRepository) FindByPaymentRef(ctx context.Context, ref string) ([]domain.Slot, error) {
	var slots []domain.Slot
	if err := r.db.WithContext(ctx).Where("payment_ref = ?", ref).Order("slot_key").Find(&slots).Error; err != nil {
		return nil, err
	}
	return slots, nil
}

// FindHeldBefore lists held slots whose hold started before cutoff.
func (r *SlotRepository) FindHeldBefore(ctx context.Context, cutoff time.Time) ([]domain.Slot, error) {
	var slots []domain.Slot
	err := r.db.WithContext(ctx).
		Where("available = ? AND (held_at IS NULL OR held_at < ?)", domain.SlotHeld, cutoff).
		Order("slot_key").
		Find(&slots).Error
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// MarkHeld claims every key for ref in one transaction. Booked slots are never
// claimed; if any key cannot be claimed nothing is written.
func (r *SlotRepository) MarkHeld(ctx context.Context, keys []string, ref string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"available":   domain.SlotHeld,
			"payment_ref": ref,
			"cost":        gorm.Expr("price"),
		}
		for k, v := range fields {
			updates[k] = v
		}
		res := tx.Model(&domain.Slot{}).
			Where("slot_key IN ? AND available <> ?", keys, domain.SlotBooked).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(keys)) {
			return ErrSlotsUnavailable
		}
		return nil
	})
}

// UpdateSlot applies fields to the rows matching filter and reports how many
// rows changed.
func (r *SlotRepository) UpdateSlot(ctx context.Context, filter SlotFilter, fields map[string]interface{}) (int64, error) {
	if filter == (SlotFilter{}) {
		return 0, errors.New("refusing unfiltered slot update")
	}
	q := filter.apply(r.db.WithContext(ctx).Model(&domain.Slot{}))
	res := q.Updates(fields)
	return res.RowsAffected, res.Error
}

// UpdateManyByPaymentRef updates every slot carrying ref that is currently in
// state only.
func (r *SlotRepository) UpdateManyByPaymentRef(ctx context.Context, ref string, only domain.Availability, fields map[string]interface{}) (int64, error) {
	if ref == "" {
		return 0, errors.New("payment ref is required")
	}
	return r.UpdateSlot(ctx, SlotFilter{PaymentRef: ref, Available: only}, fields)
}

// CreateBatch inserts inventory rows, skipping keys that already exist.
func (r *SlotRepository) CreateBatch(ctx context.Context, slots []domain.Slot) (int64, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(slots, 500)
	return res.RowsAffected, res.Error
}

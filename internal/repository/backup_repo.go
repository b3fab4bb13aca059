package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"escaperoom/internal/domain"
)

type BackupRepository struct {
	db *gorm.DB
}

func NewBackupRepository(db *gorm.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

// Create stores b. A second snapshot of the same (slot, ref) pair is ignored so
// the first, pre-hold state always wins.
func (r *BackupRepository) Create(ctx context.Context, b *domain.SlotBackup) error {
	if err := r.db.WithContext(ctx).Create(b).Error; err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

func (r *BackupRepository) FindByRef(ctx context.Context, ref string) ([]domain.SlotBackup, error) {
	var backups []domain.SlotBackup
	if err := r.db.WithContext(ctx).Where("payment_ref = ?", ref).Order("slot_key").Find(&backups).Error; err != nil {
		return nil, err
	}
	return backups, nil
}

// FindLatestByKey returns the newest backup for key regardless of payment ref.
func (r *BackupRepository) FindLatestByKey(ctx context.Context, key string) (*domain.SlotBackup, error) {
	var b domain.SlotBackup
	if err := r.db.WithContext(ctx).Where("slot_key = ?", key).Order("created_at desc, id desc").First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BackupRepository) DeleteByRef(ctx context.Context, ref string) (int64, error) {
	res := r.db.WithContext(ctx).Where("payment_ref = ?", ref).Delete(&domain.SlotBackup{})
	return res.RowsAffected, res.Error
}

func (r *BackupRepository) DeleteByKey(ctx context.Context, key string) (int64, error) {
	res := r.db.WithContext(ctx).Where("slot_key = ?", key).Delete(&domain.SlotBackup{})
	return res.RowsAffected, res.Error
}

// Retag changes the source of every backup held under ref.
func (r *BackupRepository) Retag(ctx context.Context, ref string, source domain.BackupSource) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.SlotBackup{}).Where("payment_ref = ?", ref).Update("source", source)
	return res.RowsAffected, res.Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique failed")
}

package testutil

import (
	"fmt"
	"strings"
	"testing"
	_ "time/tzdata"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"escaperoom/internal/database"
	"escaperoom/internal/domain"
)

// NewDB opens a migrated in-memory SQLite database private to t.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(
		gormsqlite.New(gormsqlite.Config{DriverName: "sqlite", DSN: dsn}),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	return db
}

// SeedSlot inserts an open slot for key with the given list price.
func SeedSlot(t *testing.T, db *gorm.DB, key string, price int64) *domain.Slot {
	t.Helper()
	k, err := domain.ParseSlotKey(key)
	if err != nil {
		t.Fatalf("bad slot key %q: %v", key, err)
	}
	s := &domain.Slot{
		SlotKey:   key,
		Year:      k.Year,
		Month:     int(k.Month),
		Day:       k.Day,
		Category:  k.Category,
		Time:      k.Time,
		Price:     price,
		Available: domain.SlotOpen,
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("failed to seed slot %q: %v", key, err)
	}
	return s
}

// LoadSlot reads the current row for key.
func LoadSlot(t *testing.T, db *gorm.DB, key string) *domain.Slot {
	t.Helper()
	var s domain.Slot
	if err := db.Where("slot_key = ?", key).First(&s).Error; err != nil {
		t.Fatalf("failed to load slot %q: %v", key, err)
	}
	return &s
}

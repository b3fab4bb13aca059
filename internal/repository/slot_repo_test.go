package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escaperoom/internal/domain"
	"escaperoom/internal/testutil"
)

const (
	keySubmarine = "2026-June-12-SUBMARINE-17:00"
	keyHotel     = "2026-June-12-HAUNTED HOTEL-17:00"
)

func TestMarkHeldClaimsAllOrNothing(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSlotRepository(db)
	ctx := context.Background()

	testutil.SeedSlot(t, db, keySubmarine, 850)
	booked := testutil.SeedSlot(t, db, keyHotel, 850)
	require.NoError(t, db.Model(booked).Update("available", domain.SlotBooked).Error)

	err := repo.MarkHeld(ctx, []string{keySubmarine, keyHotel}, "P1", nil)
	require.ErrorIs(t, err, ErrSlotsUnavailable)

	s := testutil.LoadSlot(t, db, keySubmarine)
	assert.Equal(t, domain.SlotOpen, s.Available)
	assert.Nil(t, s.PaymentRef)
}

func TestMarkHeldCopiesPriceIntoCost(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSlotRepository(db)
	testutil.SeedSlot(t, db, keySubmarine, 850)

	require.NoError(t, repo.MarkHeld(context.Background(), []string{keySubmarine}, "P1", map[string]interface{}{"players": 4}))

	s := testutil.LoadSlot(t, db, keySubmarine)
	assert.Equal(t, domain.SlotHeld, s.Available)
	assert.Equal(t, int64(850), s.Cost)
	assert.Equal(t, 4, s.Players)
	require.NotNil(t, s.PaymentRef)
	assert.Equal(t, "P1", *s.PaymentRef)
}

func TestUpdateManyByPaymentRefIsFiltered(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSlotRepository(db)
	ctx := context.Background()
	testutil.SeedSlot(t, db, keySubmarine, 850)
	testutil.SeedSlot(t, db, keyHotel, 850)
	require.NoError(t, repo.MarkHeld(ctx, []string{keySubmarine, keyHotel}, "P1", nil))

	n, err := repo.UpdateManyByPaymentRef(ctx, "P1", domain.SlotHeld, map[string]interface{}{"available": domain.SlotBooked})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.UpdateManyByPaymentRef(ctx, "P1", domain.SlotHeld, map[string]interface{}{"available": domain.SlotBooked})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpdateSlotRejectsEmptyFilter(t *testing.T) {
	repo := NewSlotRepository(testutil.NewDB(t))
	_, err := repo.UpdateSlot(context.Background(), SlotFilter{}, map[string]interface{}{"available": domain.SlotOpen})
	assert.Error(t, err)
}

func TestFindHeldBefore(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSlotRepository(db)
	ctx := context.Background()
	testutil.SeedSlot(t, db, keySubmarine, 850)
	testutil.SeedSlot(t, db, keyHotel, 850)

	old := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkHeld(ctx, []string{keySubmarine}, "P1", map[string]interface{}{"held_at": old}))
	require.NoError(t, repo.MarkHeld(ctx, []string{keyHotel}, "P2", map[string]interface{}{"held_at": old.Add(2 * time.Hour)}))

	slots, err := repo.FindHeldBefore(ctx, old.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, keySubmarine, slots[0].SlotKey)
}

func TestCreateBatchSkipsExisting(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewSlotRepository(db)
	testutil.SeedSlot(t, db, keySubmarine, 850)

	k, _ := domain.ParseSlotKey(keyHotel)
	batch := []domain.Slot{
		{Year: 2026, Month: 6, Day: 12, Category: "SUBMARINE", Time: "17:00", Price: 850, Available: domain.SlotOpen},
		{Year: k.Year, Month: int(k.Month), Day: k.Day, Category: k.Category, Time: k.Time, Price: 850, Available: domain.SlotOpen},
	}
	_, err := repo.CreateBatch(context.Background(), batch)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&domain.Slot{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

package hold

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"escaperoom/internal/clock"
	"escaperoom/internal/domain"
	"escaperoom/internal/logger"
	"escaperoom/internal/modules/dispatch"
	"escaperoom/internal/repository"
	"escaperoom/internal/testutil"
)

const (
	slotA = "2026-June-12-SUBMARINE-17:00"
	slotB = "2026-June-12-SUBMARINE-18:30"
	slotC = "2026-June-12-SUBMARINE-20:00"
)

type MockCanceller struct {
	mock.Mock
}

func (m *MockCanceller) Cancel(ctx context.Context, provider domain.ProviderKind, ref string) error {
	args := m.Called(ctx, provider, ref)
	return args.Error(0)
}

type MockDiscounts struct {
	mock.Mock
}

func (m *MockDiscounts) ReserveDiscount(ctx context.Context, code, ref string) error {
	args := m.Called(ctx, code, ref)
	return args.Error(0)
}

func (m *MockDiscounts) ReleaseDiscount(ctx context.Context, code, ref string) error {
	args := m.Called(ctx, code, ref)
	return args.Error(0)
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	clock     *clock.Manual
	canceller *MockCanceller
	discounts *MockDiscounts
	backups   *repository.BackupRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	for _, k := range []string{slotA, slotB, slotC} {
		testutil.SeedSlot(t, db, k, 850)
	}
	log := logger.Discard()
	f := &fixture{
		db:        db,
		clock:     clock.NewManual(time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)),
		canceller: new(MockCanceller),
		discounts: new(MockDiscounts),
		backups:   repository.NewBackupRepository(db),
	}
	f.svc = NewService(Dependencies{
		Slots:      repository.NewSlotRepository(db),
		Backups:    f.backups,
		Discounts:  f.discounts,
		Canceller:  f.canceller,
		Dispatcher: &dispatch.Inline{Log: log},
		Clock:      f.clock,
		Logger:     log,
	})
	return f
}

func holdRequest(ref string, keys ...string) CreateHoldRequest {
	return CreateHoldRequest{
		PaymentRef: ref,
		SlotKeys:   keys,
		Provider:   domain.ProviderNets,
		Customer:   CustomerRequest{Name: "Anna", Email: "anna@example.se", Players: 4},
	}
}

func TestService_CreateHold_Success(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CreateHold(context.Background(), holdRequest("P1", slotA, slotB, slotA))
	require.NoError(t, err)
	assert.Equal(t, "P1", resp.PaymentRef)
	assert.Equal(t, []string{slotA, slotB}, resp.SlotKeys)
	assert.Empty(t, resp.Evicted)

	s := testutil.LoadSlot(t, f.db, slotA)
	assert.Equal(t, domain.SlotHeld, s.Available)
	require.NotNil(t, s.PaymentRef)
	assert.Equal(t, "P1", *s.PaymentRef)
	assert.Equal(t, int64(850), s.Cost)
	assert.Equal(t, 4, s.Players)

	backups, err := f.backups.FindByRef(context.Background(), "P1")
	require.NoError(t, err)
	assert.Len(t, backups, 2)
	for _, b := range backups {
		assert.Equal(t, domain.SlotOpen, b.Available)
		assert.Equal(t, domain.BackupPaymentInitialize, b.Source)
	}

	assert.True(t, f.svc.Table().Owns("P1"))
}

func TestService_CreateHold_GeneratesReference(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CreateHold(context.Background(), holdRequest("", slotA))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.PaymentRef)
	assert.True(t, f.svc.Table().Owns(resp.PaymentRef))
}

func TestService_CreateHold_EvictsOverlappingHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.canceller.On("Cancel", mock.Anything, domain.ProviderNets, "H1").Return(nil).Once()

	_, err := f.svc.CreateHold(ctx, holdRequest("H1", slotA, slotB))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	resp, err := f.svc.CreateHold(ctx, holdRequest("H2", slotB, slotC))
	require.NoError(t, err)
	assert.Equal(t, []string{"H1"}, resp.Evicted)

	holds := f.svc.List()
	require.Len(t, holds, 1)
	assert.Equal(t, "H2", holds[0].PaymentRef)

	a := testutil.LoadSlot(t, f.db, slotA)
	assert.Equal(t, domain.SlotOpen, a.Available)
	assert.Nil(t, a.PaymentRef)

	b := testutil.LoadSlot(t, f.db, slotB)
	assert.Equal(t, domain.SlotHeld, b.Available)
	require.NotNil(t, b.PaymentRef)
	assert.Equal(t, "H2", *b.PaymentRef)

	old, err := f.backups.FindByRef(ctx, "H1")
	require.NoError(t, err)
	require.Len(t, old, 2)
	for _, bk := range old {
		assert.Equal(t, domain.BackupCancelled, bk.Source)
	}

	f.canceller.AssertExpectations(t)
}

func TestService_CreateHold_CarriesPriorBackup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.canceller.On("Cancel", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	require.NoError(t, f.db.Model(&domain.Slot{}).Where("slot_key = ?", slotA).Update("discount", 100).Error)

	_, err := f.svc.CreateHold(ctx, holdRequest("H1", slotA))
	require.NoError(t, err)
	_, err = f.svc.CreateHold(ctx, holdRequest("H2", slotA))
	require.NoError(t, err)

	backups, err := f.backups.FindByRef(ctx, "H2")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, domain.SlotOpen, backups[0].Available)
	assert.Equal(t, int64(100), backups[0].Discount)
	assert.Equal(t, int64(0), backups[0].Cost)
}

func TestService_CreateHold_RejectsBookedSlot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&domain.Slot{}).Where("slot_key = ?", slotB).Update("available", domain.SlotBooked).Error)

	_, err := f.svc.CreateHold(context.Background(), holdRequest("P1", slotA, slotB))
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	a := testutil.LoadSlot(t, f.db, slotA)
	assert.Equal(t, domain.SlotOpen, a.Available)
	assert.Equal(t, 0, f.svc.Table().Len())
}

func TestService_CreateHold_UnknownSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateHold(context.Background(), holdRequest("P1", "2026-June-13-SUBMARINE-17:00"))
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestService_CreateHold_InvalidKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateHold(context.Background(), holdRequest("P1", "not-a-key"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_CreateHold_DuplicateReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateHold(ctx, holdRequest("P1", slotA))
	require.NoError(t, err)
	_, err = f.svc.CreateHold(ctx, holdRequest("P1", slotB))
	assert.ErrorIs(t, err, ErrHoldExists)
}

func TestService_CreateHold_DiscountRejected(t *testing.T) {
	f := newFixture(t)
	req := holdRequest("P1", slotA)
	req.DiscountCode = "NOPE"
	f.discounts.On("ReserveDiscount", mock.Anything, "NOPE", "P1").Return(errors.New("discount not found"))

	_, err := f.svc.CreateHold(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, domain.SlotOpen, testutil.LoadSlot(t, f.db, slotA).Available)
}

func TestService_Release_RestoresSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := holdRequest("P1", slotA, slotB)
	req.DiscountCode = "SUMMER"
	f.discounts.On("ReserveDiscount", mock.Anything, "SUMMER", "P1").Return(nil)
	f.discounts.On("ReleaseDiscount", mock.Anything, "SUMMER", "P1").Return(nil).Once()
	f.canceller.On("Cancel", mock.Anything, domain.ProviderNets, "P1").Return(nil).Once()

	_, err := f.svc.CreateHold(ctx, req)
	require.NoError(t, err)
	require.NoError(t, f.svc.Release(ctx, "P1"))

	for _, k := range []string{slotA, slotB} {
		s := testutil.LoadSlot(t, f.db, k)
		assert.Equal(t, domain.SlotOpen, s.Available)
		assert.Nil(t, s.PaymentRef)
		assert.Nil(t, s.DiscountCode)
		assert.Equal(t, int64(0), s.Cost)
	}
	backups, err := f.backups.FindByRef(ctx, "P1")
	require.NoError(t, err)
	assert.Empty(t, backups)
	assert.False(t, f.svc.Table().Owns("P1"))

	f.discounts.AssertExpectations(t)
	f.canceller.AssertExpectations(t)
}

func TestService_Release_UnknownReferenceIsNoop(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Release(context.Background(), "missing"))
	f.canceller.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RestoreSlots_SkipsSlotsOwnedElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.canceller.On("Cancel", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.CreateHold(ctx, holdRequest("H1", slotA))
	require.NoError(t, err)
	_, err = f.svc.CreateHold(ctx, holdRequest("H2", slotA))
	require.NoError(t, err)

	restored, err := f.svc.RestoreSlots(ctx, "H1", []string{slotA})
	require.NoError(t, err)
	assert.Empty(t, restored)

	a := testutil.LoadSlot(t, f.db, slotA)
	require.NotNil(t, a.PaymentRef)
	assert.Equal(t, "H2", *a.PaymentRef)
}

func TestService_HoldGiftCardPurchase(t *testing.T) {
	f := newFixture(t)

	h, err := f.svc.HoldGiftCardPurchase(context.Background(), "PAY-GC", "GC1", domain.ProviderSwish)
	require.NoError(t, err)
	assert.Equal(t, KindGiftCard, h.Kind)
	assert.Empty(t, h.SlotKeys)

	_, err = f.svc.HoldGiftCardPurchase(context.Background(), "PAY-GC", "GC1", domain.ProviderSwish)
	assert.ErrorIs(t, err, ErrHoldExists)
}

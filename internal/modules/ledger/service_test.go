package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"escaperoom/internal/clock"
	"escaperoom/internal/domain"
	"escaperoom/internal/logger"
	"escaperoom/internal/testutil"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	clk := clock.NewFixed(time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC))
	return NewService(db, logger.Discard(), clk), db
}

func seedCard(t *testing.T, db *gorm.DB, ref string, balance int64) {
	t.Helper()
	require.NoError(t, db.Create(&domain.GiftCard{Reference: ref, Balance: balance, InitialAmount: balance, Paid: true}).Error)
}

func seedDiscount(t *testing.T, db *gorm.DB, d domain.Discount) {
	t.Helper()
	require.NoError(t, db.Create(&d).Error)
}

func TestDebitGiftCard_CoversRemainder(t *testing.T) {
	svc, _ := newTestService(t)
	seedCard(t, svc.db, "GC1", 1500)

	// 1000 SEK expected, 400 SEK charged by the provider.
	debit, err := svc.DebitGiftCard(context.Background(), "GC1", 1000-400, "BK1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), debit.Debited)
	assert.Equal(t, int64(900), debit.Balance)

	card, err := svc.FindGiftCard(context.Background(), "GC1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), card.Balance)
}

func TestDebitGiftCard_ClampsToBalance(t *testing.T) {
	svc, _ := newTestService(t)
	seedCard(t, svc.db, "GC2", 300)

	debit, err := svc.DebitGiftCard(context.Background(), "GC2", 500, "BK2")
	require.ErrorIs(t, err, ErrLedgerInvariant)
	require.NotNil(t, debit)
	assert.Equal(t, int64(300), debit.Debited)
	assert.Equal(t, int64(0), debit.Balance)
}

func TestDebitGiftCard_OncePerBooking(t *testing.T) {
	svc, db := newTestService(t)
	seedCard(t, db, "GC3", 1000)
	ctx := context.Background()

	_, err := svc.DebitGiftCard(ctx, "GC3", 200, "BK3")
	require.NoError(t, err)
	again, err := svc.DebitGiftCard(ctx, "GC3", 200, "BK3")
	require.NoError(t, err)
	assert.Equal(t, int64(200), again.Debited)
	assert.Equal(t, int64(800), again.Balance)

	var count int64
	require.NoError(t, db.Model(&domain.GiftCardTransaction{}).Where("type = ?", domain.GiftCardTxnDebit).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDebitGiftCard_ZeroAmountIsNoop(t *testing.T) {
	svc, _ := newTestService(t)

	debit, err := svc.DebitGiftCard(context.Background(), "missing", 0, "BK")
	require.NoError(t, err)
	assert.Zero(t, debit.Debited)
}

func TestDebitGiftCard_UnknownCard(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.DebitGiftCard(context.Background(), "missing", 100, "BK")
	assert.ErrorIs(t, err, ErrGiftCardNotFound)
}

func TestQuote(t *testing.T) {
	svc, db := newTestService(t)
	seedDiscount(t, db, domain.Discount{Code: "SUMMER20", Percent: 20, UsageType: domain.DiscountUnlimited})
	seedDiscount(t, db, domain.Discount{Code: "HOTEL", AmountOff: 100, Categories: "HAUNTED HOTEL", MinPlayers: 3})
	ctx := context.Background()

	total, err := svc.Quote(ctx, "", 1700, 4, []string{"SUBMARINE"})
	require.NoError(t, err)
	assert.Equal(t, int64(1700), total)

	total, err = svc.Quote(ctx, "summer20", 1700, 4, []string{"SUBMARINE"})
	require.NoError(t, err)
	assert.Equal(t, int64(1360), total)

	_, err = svc.Quote(ctx, "HOTEL", 850, 4, []string{"SUBMARINE"})
	assert.ErrorIs(t, err, ErrDiscountInvalid)

	_, err = svc.Quote(ctx, "HOTEL", 850, 2, []string{"HAUNTED HOTEL"})
	assert.ErrorIs(t, err, ErrDiscountInvalid)

	total, err = svc.Quote(ctx, "HOTEL", 850, 3, []string{"HAUNTED HOTEL"})
	require.NoError(t, err)
	assert.Equal(t, int64(750), total)

	_, err = svc.Quote(ctx, "NOPE", 850, 3, nil)
	assert.ErrorIs(t, err, ErrDiscountNotFound)
}

func TestQuote_ValidityWindow(t *testing.T) {
	svc, db := newTestService(t)
	past := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	seedDiscount(t, db, domain.Discount{Code: "OLD", Percent: 10, ValidTo: &past})

	_, err := svc.Quote(context.Background(), "OLD", 850, 2, nil)
	assert.ErrorIs(t, err, ErrDiscountInvalid)
}

func TestConsumeDiscount_Idempotent(t *testing.T) {
	svc, db := newTestService(t)
	seedDiscount(t, db, domain.Discount{Code: "TEAM", Percent: 10, MaxUses: 5})
	ctx := context.Background()

	require.NoError(t, svc.ReserveDiscount(ctx, "TEAM", "P1"))
	require.NoError(t, svc.ConsumeDiscount(ctx, "TEAM", "P1", "BK1"))
	require.NoError(t, svc.ConsumeDiscount(ctx, "TEAM", "P1", "BK1"))

	var d domain.Discount
	require.NoError(t, db.Where("code = ?", "TEAM").First(&d).Error)
	assert.Equal(t, 1, d.UsageCount)

	var usage domain.DiscountUsage
	require.NoError(t, db.Where("code = ? AND payment_ref = ?", "TEAM", "P1").First(&usage).Error)
	assert.Equal(t, domain.DiscountConsumed, usage.Status)
	require.NotNil(t, usage.BookingRef)
	assert.Equal(t, "BK1", *usage.BookingRef)
}

func TestConsumeDiscount_SingleUseExhausted(t *testing.T) {
	svc, db := newTestService(t)
	seedDiscount(t, db, domain.Discount{Code: "ONCE", Percent: 50, UsageType: domain.DiscountSingle})
	ctx := context.Background()

	require.NoError(t, svc.ConsumeDiscount(ctx, "ONCE", "P1", "BK1"))
	err := svc.ConsumeDiscount(ctx, "ONCE", "P2", "BK2")
	assert.ErrorIs(t, err, ErrLedgerInvariant)

	var d domain.Discount
	require.NoError(t, db.Where("code = ?", "ONCE").First(&d).Error)
	assert.Equal(t, 1, d.UsageCount)

	assert.ErrorIs(t, svc.ReserveDiscount(ctx, "ONCE", "P3"), ErrDiscountExhausted)
}

func TestReleaseDiscount_KeepsConsumed(t *testing.T) {
	svc, db := newTestService(t)
	seedDiscount(t, db, domain.Discount{Code: "KEEP", Percent: 10})
	ctx := context.Background()

	require.NoError(t, svc.ReserveDiscount(ctx, "KEEP", "P1"))
	require.NoError(t, svc.ReserveDiscount(ctx, "KEEP", "P2"))
	require.NoError(t, svc.ConsumeDiscount(ctx, "KEEP", "P1", "BK1"))

	require.NoError(t, svc.ReleaseDiscount(ctx, "KEEP", "P1"))
	require.NoError(t, svc.ReleaseDiscount(ctx, "KEEP", "P2"))

	var count int64
	require.NoError(t, db.Model(&domain.DiscountUsage{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestReleaseDiscount_MatchesCodeCaseInsensitively(t *testing.T) {
	svc, db := newTestService(t)
	seedDiscount(t, db, domain.Discount{Code: "SUMMER", Percent: 10})
	ctx := context.Background()

	require.NoError(t, svc.ReserveDiscount(ctx, "summer", "P1"))
	var usage domain.DiscountUsage
	require.NoError(t, db.Where("payment_ref = ?", "P1").First(&usage).Error)
	assert.Equal(t, "SUMMER", usage.Code)

	require.NoError(t, svc.ReleaseDiscount(ctx, " summer", "P1"))

	var count int64
	require.NoError(t, db.Model(&domain.DiscountUsage{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGiftCardPurchaseLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	card, err := svc.IssueGiftCard(ctx, IssueGiftCardRequest{
		Amount: 1000, RecipientName: "Alva", RecipientEmail: "alva@example.com", BuyerEmail: "buyer@example.com",
	})
	require.NoError(t, err)
	assert.Len(t, card.Reference, 12)

	_, err = svc.SpendableBalance(ctx, card.Reference)
	assert.ErrorIs(t, err, ErrGiftCardNotPaid)

	require.NoError(t, svc.AttachPayment(ctx, card.Reference, "PAY-1"))

	ok, err := svc.MarkGiftCardPaid(ctx, "PAY-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.MarkGiftCardPaid(ctx, "PAY-1")
	require.NoError(t, err)
	assert.False(t, ok)

	balance, err := svc.SpendableBalance(ctx, card.Reference)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	byPayment, err := svc.FindGiftCardByPayment(ctx, "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, card.Reference, byPayment.Reference)
}

func TestApplyDiscount_IgnoresUsageLimits(t *testing.T) {
	svc, db := newTestService(t)
	seedDiscount(t, db, domain.Discount{Code: "ONCE", AmountOff: 200, UsageType: domain.DiscountSingle, UsageCount: 1})

	total, err := svc.ApplyDiscount(context.Background(), "ONCE", 1700)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), total)
}

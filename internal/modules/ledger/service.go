package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"escaperoom/internal/clock"
	"escaperoom/internal/domain"
	"escaperoom/internal/metrics"
)

// Service applies the balance and usage effects of confirmed payments.
type Service struct {
	db    *gorm.DB
	log   *logrus.Logger
	clock clock.Clock
}

func NewService(db *gorm.DB, log *logrus.Logger, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{db: db, log: log, clock: clk}
}

type GiftCardDebit struct {
	Requested int64 `json:"requested"`
	Debited   int64 `json:"debited"`
	Balance   int64 `json:"balance"`
}

type IssueGiftCardRequest struct {
	Amount         int64  `json:"amount" validate:"required,gt=0,lte=100000" example:"1500"`
	RecipientName  string `json:"recipient_name" validate:"required,max=255"`
	RecipientEmail string `json:"recipient_email" validate:"required,email"`
	BuyerEmail     string `json:"buyer_email" validate:"required,email"`
}

// DebitGiftCard reduces the card balance by min(amount, balance). Repeated
// calls for the same bookingRef debit once.
func (s *Service) DebitGiftCard(ctx context.Context, ref string, amount int64, bookingRef string) (*GiftCardDebit, error) {
	out := &GiftCardDebit{Requested: amount}
	if amount <= 0 {
		return out, nil
	}

	var clamped bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card domain.GiftCard
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("reference = ?", ref).First(&card).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGiftCardNotFound
			}
			return err
		}

		if bookingRef != "" {
			var prior domain.GiftCardTransaction
			err := tx.Where("gift_card_id = ? AND booking_ref = ? AND type = ?", card.ID, bookingRef, domain.GiftCardTxnDebit).First(&prior).Error
			if err == nil {
				out.Debited = prior.Amount
				out.Balance = card.Balance
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		debit := amount
		if debit > card.Balance {
			debit = card.Balance
			clamped = true
		}
		card.Balance -= debit
		if err := tx.Model(&domain.GiftCard{}).Where("id = ?", card.ID).Update("balance", card.Balance).Error; err != nil {
			return err
		}
		txn := domain.GiftCardTransaction{GiftCardID: card.ID, Amount: debit, Type: domain.GiftCardTxnDebit, BookingRef: bookingRef}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}
		out.Debited = debit
		out.Balance = card.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordGiftCardDebit(out.Debited)
	entry := s.log.WithFields(logrus.Fields{
		"gift_card_ref": ref,
		"booking_ref":   bookingRef,
		"requested":     amount,
		"debited":       out.Debited,
		"balance":       out.Balance,
	})
	if clamped {
		metrics.RecordLedgerViolation("gift_card_clamp")
		entry.WithError(ErrLedgerInvariant).Warn("gift card debit clamped to balance")
		return out, fmt.Errorf("%w: requested %d exceeds balance", ErrLedgerInvariant, amount)
	}
	entry.Info("gift card debited")
	return out, nil
}

func (s *Service) FindGiftCard(ctx context.Context, ref string) (*domain.GiftCard, error) {
	var card domain.GiftCard
	if err := s.db.WithContext(ctx).Where("reference = ?", ref).First(&card).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGiftCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// SpendableBalance is the balance of a paid card.
func (s *Service) SpendableBalance(ctx context.Context, ref string) (int64, error) {
	card, err := s.FindGiftCard(ctx, ref)
	if err != nil {
		return 0, err
	}
	if !card.Paid {
		return 0, ErrGiftCardNotPaid
	}
	return card.Balance, nil
}

// IssueGiftCard creates an unpaid card; it becomes spendable once its
// purchase is confirmed.
func (s *Service) IssueGiftCard(ctx context.Context, req IssueGiftCardRequest) (*domain.GiftCard, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	card := &domain.GiftCard{
		Reference:      newGiftCardReference(),
		Balance:        req.Amount,
		InitialAmount:  req.Amount,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		BuyerEmail:     req.BuyerEmail,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(card).Error; err != nil {
			return err
		}
		return tx.Create(&domain.GiftCardTransaction{GiftCardID: card.ID, Amount: req.Amount, Type: domain.GiftCardTxnIssue}).Error
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// AttachPayment records the payment reference a card is being bought with.
func (s *Service) AttachPayment(ctx context.Context, ref, paymentRef string) error {
	res := s.db.WithContext(ctx).Model(&domain.GiftCard{}).
		Where("reference = ? AND paid = ?", ref, false).
		Update("payment_ref", paymentRef)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGiftCardNotFound
	}
	return nil
}

// MarkGiftCardPaid flips the unpaid card bought with paymentRef to paid. It
// reports false when there is no such unpaid card.
func (s *Service) MarkGiftCardPaid(ctx context.Context, paymentRef string) (bool, error) {
	now := s.clock.Now()
	res := s.db.WithContext(ctx).Model(&domain.GiftCard{}).
		Where("payment_ref = ? AND paid = ?", paymentRef, false).
		Updates(map[string]interface{}{"paid": true, "paid_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) FindGiftCardByPayment(ctx context.Context, paymentRef string) (*domain.GiftCard, error) {
	var card domain.GiftCard
	if err := s.db.WithContext(ctx).Where("payment_ref = ?", paymentRef).First(&card).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGiftCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// ApplyDiscount prices total with code without re-checking its validity
// window or usage limits. Used at settlement, where the customer was already
// quoted the discounted amount.
func (s *Service) ApplyDiscount(ctx context.Context, code string, total int64) (int64, error) {
	if strings.TrimSpace(code) == "" {
		return total, nil
	}
	d, err := s.findDiscount(ctx, s.db.WithContext(ctx), code)
	if err != nil {
		return total, err
	}
	return d.Apply(total), nil
}

// Quote validates code against a prospective booking and returns the
// discounted total.
func (s *Service) Quote(ctx context.Context, code string, total int64, players int, categories []string) (int64, error) {
	if strings.TrimSpace(code) == "" {
		return total, nil
	}
	d, err := s.findDiscount(ctx, s.db.WithContext(ctx), code)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	switch {
	case d.ValidFrom != nil && now.Before(*d.ValidFrom):
		return 0, fmt.Errorf("%w: not yet valid", ErrDiscountInvalid)
	case d.ValidTo != nil && now.After(*d.ValidTo):
		return 0, fmt.Errorf("%w: expired", ErrDiscountInvalid)
	case d.MinPlayers > 0 && players < d.MinPlayers:
		return 0, fmt.Errorf("%w: requires %d players", ErrDiscountInvalid, d.MinPlayers)
	case d.MinAmount > 0 && total < d.MinAmount:
		return 0, fmt.Errorf("%w: requires %d SEK", ErrDiscountInvalid, d.MinAmount)
	case d.Exhausted():
		return 0, ErrDiscountExhausted
	}
	for _, c := range categories {
		if !d.AllowsCategory(c) {
			return 0, fmt.Errorf("%w: category %s", ErrDiscountInvalid, c)
		}
	}
	return d.Apply(total), nil
}

// ReserveDiscount records a tentative use of code by paymentRef.
func (s *Service) ReserveDiscount(ctx context.Context, code, paymentRef string) error {
	d, err := s.findDiscount(ctx, s.db.WithContext(ctx), code)
	if err != nil {
		return err
	}
	if d.Exhausted() {
		return ErrDiscountExhausted
	}
	usage := domain.DiscountUsage{Code: d.Code, PaymentRef: paymentRef, Status: domain.DiscountReserved}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&usage).Error
}

// ReleaseDiscount drops a reservation that never turned into a booking.
// Consumed usages are kept. code matches the way findDiscount does, so a
// reservation made as "summer" is released as "Summer".
func (s *Service) ReleaseDiscount(ctx context.Context, code, paymentRef string) error {
	return s.db.WithContext(ctx).
		Where("UPPER(code) = ? AND payment_ref = ? AND status = ?", strings.ToUpper(strings.TrimSpace(code)), paymentRef, domain.DiscountReserved).
		Delete(&domain.DiscountUsage{}).Error
}

// ConsumeDiscount increments the usage count of code once per paymentRef.
// An exhausted discount is not consumed and ErrLedgerInvariant is returned.
func (s *Service) ConsumeDiscount(ctx context.Context, code, paymentRef, bookingRef string) error {
	var exhausted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.findDiscount(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), code)
		if err != nil {
			return err
		}

		var usage domain.DiscountUsage
		err = tx.Where("code = ? AND payment_ref = ?", d.Code, paymentRef).First(&usage).Error
		switch {
		case err == nil && usage.Status == domain.DiscountConsumed:
			return nil
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if d.Exhausted() {
			exhausted = true
			return tx.Where("code = ? AND payment_ref = ?", d.Code, paymentRef).Delete(&domain.DiscountUsage{}).Error
		}

		if err := tx.Model(&domain.Discount{}).Where("id = ?", d.ID).Update("usage_count", gorm.Expr("usage_count + 1")).Error; err != nil {
			return err
		}
		usage.Code = d.Code
		usage.PaymentRef = paymentRef
		usage.BookingRef = &bookingRef
		usage.Status = domain.DiscountConsumed
		return tx.Save(&usage).Error
	})
	if err != nil {
		return err
	}
	entry := s.log.WithFields(logrus.Fields{"discount_code": code, "payment_ref": paymentRef, "booking_ref": bookingRef})
	if exhausted {
		metrics.RecordLedgerViolation("discount_exhausted")
		entry.WithError(ErrLedgerInvariant).Warn("discount exhausted, usage not recorded")
		return fmt.Errorf("%w: %v", ErrLedgerInvariant, ErrDiscountExhausted)
	}
	entry.Info("discount consumed")
	return nil
}

func (s *Service) findDiscount(ctx context.Context, q *gorm.DB, code string) (*domain.Discount, error) {
	var d domain.Discount
	if err := q.WithContext(ctx).Where("UPPER(code) = ?", strings.ToUpper(strings.TrimSpace(code))).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDiscountNotFound
		}
		return nil, err
	}
	return &d, nil
}

func newGiftCardReference() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "GC" + raw[:10]
}

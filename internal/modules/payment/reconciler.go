package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"escaperoom/internal/clock"
	"escaperoom/internal/domain"
	"escaperoom/internal/metrics"
	"escaperoom/internal/modules/announce"
	"escaperoom/internal/modules/hold"
	"escaperoom/internal/modules/ledger"
	"escaperoom/internal/modules/notify"
)

const (
	ActionBooked       = "booked"
	ActionGiftCardPaid = "giftcard_paid"
	ActionReleased     = "released"
	ActionDuplicate    = "duplicate"
	ActionUnmatched    = "unmatched"
	ActionIgnored      = "ignored"
	ActionUnconfirmed  = "unconfirmed"
)

// Result describes what a callback did. It is informational; the provider is
// acknowledged regardless.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	Action     string  `json:"action"`
	BookingRef string  `json:"booking_ref,omitempty"`
}

type ReconcilerDeps struct {
	Slots      SlotStore
	Backups    BackupLedger
	Holds      Holds
	Ledger     Ledger
	Providers  *Registry
	Notifier   notify.Notifier
	Alerts     AlertRaiser
	Dispatcher hold.Dispatcher
	Announcer  announce.Publisher
	Clock      clock.Clock
	Location   *time.Location
	Logger     *logrus.Logger
}

// Reconciler applies provider callbacks. The payment reference together with
// the current slot state is the idempotency key: a callback only has effects
// if it moves slots out of held.
type Reconciler struct {
	deps ReconcilerDeps
	log  *logrus.Logger
}

func NewReconciler(deps ReconcilerDeps) *Reconciler {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Announcer == nil {
		deps.Announcer = announce.Nop{}
	}
	return &Reconciler{deps: deps, log: deps.Logger}
}

func (r *Reconciler) Reconcile(ctx context.Context, kind domain.ProviderKind, cb Callback) (Result, error) {
	var (
		res Result
		err error
	)
	if cb.Outcome != OutcomeIgnored && r.deps.Providers != nil {
		confirmed, cerr := r.deps.Providers.Confirm(ctx, kind, cb)
		if cerr != nil {
			r.onUnconfirmed(kind, cb, cerr)
			metrics.RecordWebhook(string(kind), "error")
			return Result{Outcome: cb.Outcome, Action: ActionUnconfirmed}, fmt.Errorf("confirm callback: %w", cerr)
		}
		if confirmed.Outcome != cb.Outcome {
			r.log.WithFields(logrus.Fields{
				"payment_ref": cb.PaymentRef,
				"provider":    kind,
				"claimed":     cb.Event,
				"confirmed":   confirmed.Event,
			}).Warn("callback status differs from provider")
		}
		cb = confirmed
	}
	switch cb.Outcome {
	case OutcomePaid:
		res, err = r.onPaid(ctx, kind, cb)
	case OutcomeFailed:
		res, err = r.onFailed(ctx, kind, cb)
	default:
		res = Result{Action: ActionIgnored}
	}
	res.Outcome = cb.Outcome
	outcome := res.Action
	if err != nil {
		outcome = "error"
	}
	metrics.RecordWebhook(string(kind), outcome)
	return res, err
}

func (r *Reconciler) onPaid(ctx context.Context, kind domain.ProviderKind, cb Callback) (Result, error) {
	ref := cb.PaymentRef
	entry := r.log.WithFields(logrus.Fields{"payment_ref": ref, "provider": kind, "event": cb.Event})

	h, live := r.deps.Holds.Get(ref)
	if live && h.Kind == hold.KindGiftCard {
		res, handled, err := r.settleGiftCard(ctx, kind, cb)
		if err != nil || handled {
			return res, err
		}
		r.raisePaidWithoutBooking(kind, cb, h.Customer.Email)
		return Result{Action: ActionUnmatched}, nil
	}

	slots, err := r.deps.Slots.FindByPaymentRef(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("load slots: %w", err)
	}
	var held []domain.Slot
	booked := 0
	for _, s := range slots {
		switch s.Available {
		case domain.SlotHeld:
			held = append(held, s)
		case domain.SlotBooked:
			booked++
		}
	}

	if len(held) == 0 {
		if booked > 0 {
			entry.WithError(ErrReconciliationMismatch).Info("duplicate paid callback")
			return Result{Action: ActionDuplicate}, nil
		}
		res, handled, err := r.settleGiftCard(ctx, kind, cb)
		if err != nil || handled {
			return res, err
		}
		entry.WithError(ErrReconciliationMismatch).Error("paid callback matches no hold")
		r.raisePaidWithoutBooking(kind, cb, h.Customer.Email)
		return Result{Action: ActionUnmatched}, nil
	}

	var expected int64
	keys := make([]string, 0, len(held))
	for _, s := range held {
		expected += s.Cost
		keys = append(keys, s.SlotKey)
	}
	customer, discountCode, giftCardRef := h.Customer, h.DiscountCode, h.GiftCardRef
	if !live {
		customer, discountCode, giftCardRef = fromSlot(held[0])
	}

	bookingRef := uuid.NewString()
	now := r.deps.Clock.Now().In(r.deps.Location)
	n, err := r.deps.Slots.UpdateManyByPaymentRef(ctx, ref, domain.SlotHeld, map[string]interface{}{
		"available":   domain.SlotBooked,
		"payed_via":   string(kind),
		"booked_at":   now,
		"booking_ref": bookingRef,
	})
	if err != nil {
		return Result{}, fmt.Errorf("finalize booking: %w", err)
	}
	if n == 0 {
		entry.WithError(ErrReconciliationMismatch).Info("paid callback lost the race to a duplicate")
		return Result{Action: ActionDuplicate}, nil
	}
	if n < int64(len(held)) {
		entry.WithError(ErrReconciliationMismatch).WithFields(logrus.Fields{"held": len(held), "booked": n}).Error("only part of the hold was booked")
		r.raise(domain.CriticalAlert{
			Type:          domain.AlertPartialBooking,
			PaymentRef:    ref,
			Amount:        cb.Amount,
			PaymentMethod: string(kind),
			CustomerEmail: customer.Email,
			Message:       fmt.Sprintf("booking %s covers %d of %d held slots (%v). The rest left held during settlement; check them and refund or book manually.", bookingRef, n, len(held), keys),
			Webhook:       string(cb.Raw),
		})
	}

	total, debited := r.applyLedger(ctx, kind, cb, expected, discountCode, giftCardRef, bookingRef, customer.Email)

	if _, err := r.deps.Backups.DeleteByRef(ctx, ref); err != nil {
		entry.WithError(err).Warn("failed to delete backups after booking")
	}
	r.deps.Holds.Remove(ref)
	metrics.RecordBookingFinalized(string(kind))

	entry.WithFields(logrus.Fields{
		"booking_ref": bookingRef,
		"slots":       keys,
		"expected":    total,
		"charged":     cb.Amount,
		"gift_card":   debited,
	}).Info("booking finalized")

	conf := notify.BookingConfirmation{
		BookingRef:      bookingRef,
		PaymentRef:      ref,
		Provider:        string(kind),
		CustomerName:    customer.Name,
		CustomerEmail:   customer.Email,
		Phone:           customer.Phone,
		Players:         customer.Players,
		SlotKeys:        keys,
		Total:           total,
		Charged:         cb.Amount,
		GiftCardDebited: debited,
		DiscountCode:    discountCode,
		BookedAt:        now,
	}
	if r.deps.Notifier != nil {
		r.deps.Dispatcher.Submit("notify.booking", func(ctx context.Context) error {
			return r.deps.Notifier.BookingConfirmed(ctx, conf)
		})
	}
	r.announce(announce.Event{Type: announce.EventSlotsBooked, PaymentRef: ref, SlotKeys: keys, At: now})
	return Result{Action: ActionBooked, BookingRef: bookingRef}, nil
}

// applyLedger debits the gift card with whatever the provider did not
// charge and consumes the discount. Failures never undo the booking.
func (r *Reconciler) applyLedger(ctx context.Context, kind domain.ProviderKind, cb Callback, expected int64, discountCode, giftCardRef, bookingRef, email string) (int64, int64) {
	entry := r.log.WithFields(logrus.Fields{"payment_ref": cb.PaymentRef, "booking_ref": bookingRef})

	total := expected
	if discountCode != "" {
		discounted, err := r.deps.Ledger.ApplyDiscount(ctx, discountCode, expected)
		if err != nil {
			entry.WithError(err).Warn("could not price discount at settlement")
		} else {
			total = discounted
		}
	}

	var debited int64
	ledgerFailed := false
	uncovered := total - cb.Amount
	switch {
	case !cb.AmountKnown && giftCardRef != "":
		entry.WithError(ErrReconciliationMismatch).Error("charged amount unknown, gift card not debited")
		ledgerFailed = true
		r.raise(domain.CriticalAlert{
			Type:          domain.AlertLedgerFailure,
			PaymentRef:    cb.PaymentRef,
			Amount:        total,
			PaymentMethod: string(kind),
			CustomerEmail: email,
			Message:       fmt.Sprintf("provider did not report the charged amount for booking %s, so gift card %s was not debited. Settle it manually.", bookingRef, giftCardRef),
			Webhook:       string(cb.Raw),
		})
	case !cb.AmountKnown:
	case giftCardRef != "" && uncovered > 0:
		d, err := r.deps.Ledger.DebitGiftCard(ctx, giftCardRef, uncovered, bookingRef)
		if d != nil {
			debited = d.Debited
		}
		if err != nil && !errors.Is(err, ledger.ErrLedgerInvariant) {
			entry.WithError(err).Error("gift card debit failed")
			ledgerFailed = true
			r.raise(domain.CriticalAlert{
				Type:          domain.AlertLedgerFailure,
				PaymentRef:    cb.PaymentRef,
				Amount:        uncovered,
				PaymentMethod: string(kind),
				CustomerEmail: email,
				Message:       fmt.Sprintf("gift card %s could not be debited %d SEK for booking %s: %v", giftCardRef, uncovered, bookingRef, err),
			})
		}
	}
	if shortfall := uncovered - debited; cb.AmountKnown && !ledgerFailed && shortfall > 0 {
		entry.WithError(ErrReconciliationMismatch).WithFields(logrus.Fields{"expected": total, "charged": cb.Amount, "gift_card": debited}).Error("charged amount below booking total")
		r.raise(domain.CriticalAlert{
			Type:          domain.AlertUnderpaid,
			PaymentRef:    cb.PaymentRef,
			Amount:        shortfall,
			PaymentMethod: string(kind),
			CustomerEmail: email,
			Message:       fmt.Sprintf("booking %s totals %d SEK but %d SEK was charged and %d SEK covered by gift card.", bookingRef, total, cb.Amount, debited),
			Webhook:       string(cb.Raw),
		})
	}

	if discountCode != "" {
		err := r.deps.Ledger.ConsumeDiscount(ctx, discountCode, cb.PaymentRef, bookingRef)
		if err != nil && !errors.Is(err, ledger.ErrLedgerInvariant) {
			entry.WithError(err).Error("discount consumption failed")
			r.raise(domain.CriticalAlert{
				Type:          domain.AlertLedgerFailure,
				PaymentRef:    cb.PaymentRef,
				PaymentMethod: string(kind),
				CustomerEmail: email,
				Message:       fmt.Sprintf("discount %s could not be consumed for booking %s: %v", discountCode, bookingRef, err),
			})
		}
	}
	return total, debited
}

// settleGiftCard handles a paid callback for a gift card purchase. handled is
// false when no gift card was bought with the reference.
func (r *Reconciler) settleGiftCard(ctx context.Context, kind domain.ProviderKind, cb Callback) (Result, bool, error) {
	ref := cb.PaymentRef
	changed, err := r.deps.Ledger.MarkGiftCardPaid(ctx, ref)
	if err != nil {
		return Result{}, true, fmt.Errorf("mark gift card paid: %w", err)
	}
	card, err := r.deps.Ledger.FindGiftCardByPayment(ctx, ref)
	if errors.Is(err, ledger.ErrGiftCardNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, true, err
	}
	r.deps.Holds.Remove(ref)

	entry := r.log.WithFields(logrus.Fields{"payment_ref": ref, "provider": kind, "gift_card_ref": card.Reference})
	if !changed {
		entry.WithError(ErrReconciliationMismatch).Info("duplicate gift card payment callback")
		return Result{Action: ActionDuplicate}, true, nil
	}
	entry.Info("gift card paid")

	issued := notify.GiftCardIssued{
		Reference:      card.Reference,
		Amount:         card.InitialAmount,
		RecipientName:  card.RecipientName,
		RecipientEmail: card.RecipientEmail,
		BuyerEmail:     card.BuyerEmail,
	}
	if r.deps.Notifier != nil {
		r.deps.Dispatcher.Submit("notify.giftcard", func(ctx context.Context) error {
			return r.deps.Notifier.GiftCardIssued(ctx, issued)
		})
	}
	return Result{Action: ActionGiftCardPaid}, true, nil
}

func (r *Reconciler) onFailed(ctx context.Context, kind domain.ProviderKind, cb Callback) (Result, error) {
	ref := cb.PaymentRef
	entry := r.log.WithFields(logrus.Fields{"payment_ref": ref, "provider": kind, "event": cb.Event})

	h, live := r.deps.Holds.Remove(ref)
	if live && h.Kind == hold.KindGiftCard {
		metrics.RecordHoldReleased("payment_failed")
		entry.Info("gift card payment failed")
		return Result{Action: ActionReleased}, nil
	}

	slots, err := r.deps.Slots.FindByPaymentRef(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("load slots: %w", err)
	}
	var keys []string
	var expected int64
	discountCode := h.DiscountCode
	for _, s := range slots {
		if s.Available != domain.SlotHeld {
			continue
		}
		keys = append(keys, s.SlotKey)
		expected += s.Cost
		if discountCode == "" && s.DiscountCode != nil {
			discountCode = *s.DiscountCode
		}
	}
	if !live && len(keys) == 0 {
		entry.WithError(ErrReconciliationMismatch).Info("failed callback matches no hold")
		return Result{Action: ActionUnmatched}, nil
	}

	restored, err := r.deps.Holds.RestoreSlots(ctx, ref, keys)
	if err != nil {
		return Result{}, err
	}
	if _, err := r.deps.Backups.DeleteByRef(ctx, ref); err != nil {
		entry.WithError(err).Warn("failed to delete backups after failed payment")
	}
	if discountCode != "" {
		if err := r.deps.Ledger.ReleaseDiscount(ctx, discountCode, ref); err != nil {
			entry.WithError(err).Warn("failed to release discount")
		}
	}
	if kind != domain.ProviderGiftCard && r.deps.Providers != nil {
		r.deps.Dispatcher.SubmitOnce("payment.void", func(ctx context.Context) error {
			return r.deps.Providers.Void(ctx, kind, ref, expected)
		})
	}
	metrics.RecordHoldReleased("payment_failed")
	entry.WithField("restored", restored).Info("hold released after failed payment")

	r.announce(announce.Event{Type: announce.EventSlotsReleased, PaymentRef: ref, SlotKeys: restored, At: r.deps.Clock.Now()})
	return Result{Action: ActionReleased}, nil
}

func (r *Reconciler) raisePaidWithoutBooking(kind domain.ProviderKind, cb Callback, email string) {
	r.raise(domain.CriticalAlert{
		Type:          domain.AlertPaidWithoutBooking,
		PaymentRef:    cb.PaymentRef,
		Amount:        cb.Amount,
		PaymentMethod: string(kind),
		CustomerEmail: email,
		Message:       "Payment was captured but no held slots or gift card match the reference. Refund or book manually.",
		Webhook:       string(cb.Raw),
	})
}

func (r *Reconciler) onUnconfirmed(kind domain.ProviderKind, cb Callback, err error) {
	r.log.WithError(err).WithFields(logrus.Fields{"payment_ref": cb.PaymentRef, "provider": kind, "event": cb.Event}).Error("callback could not be confirmed with provider")
	if cb.Outcome != OutcomePaid {
		return
	}
	r.raise(domain.CriticalAlert{
		Type:          domain.AlertUnconfirmedPayment,
		PaymentRef:    cb.PaymentRef,
		Amount:        cb.Amount,
		PaymentMethod: string(kind),
		Message:       fmt.Sprintf("paid callback could not be confirmed with %s: %v. The hold was left untouched.", kind, err),
		Webhook:       string(cb.Raw),
	})
}

func (r *Reconciler) raise(a domain.CriticalAlert) {
	if r.deps.Alerts == nil {
		return
	}
	r.deps.Dispatcher.Submit("alert.raise", func(ctx context.Context) error {
		return r.deps.Alerts.Raise(ctx, a)
	})
}

func (r *Reconciler) announce(ev announce.Event) {
	r.deps.Dispatcher.SubmitOnce("announce."+ev.Type, func(ctx context.Context) error {
		return r.deps.Announcer.Publish(ctx, ev)
	})
}

func fromSlot(s domain.Slot) (domain.Customer, string, string) {
	c := domain.Customer{Name: deref(s.BookedBy), Phone: deref(s.ContactNumber), Email: deref(s.ContactEmail), Players: s.Players, Info: deref(s.Info)}
	return c, deref(s.DiscountCode), deref(s.GiftCardRef)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

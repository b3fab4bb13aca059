package hold

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"escaperoom/internal/clock"
	"escaperoom/internal/domain"
	"escaperoom/internal/metrics"
	"escaperoom/internal/modules/announce"
	"escaperoom/internal/repository"
)

type Dependencies struct {
	Table      *Table
	Slots      SlotStore
	Backups    BackupLedger
	Discounts  DiscountReserver
	Canceller  PaymentCanceller
	Dispatcher Dispatcher
	Announcer  announce.Publisher
	Clock      clock.Clock
	Location   *time.Location
	Logger     *logrus.Logger
}

// Service owns the hold table. Every mutation that reads the table and then
// writes slots runs under mu so conflict detection and registration are
// atomic with respect to each other.
type Service struct {
	mu         sync.Mutex
	table      *Table
	slots      SlotStore
	backups    BackupLedger
	discounts  DiscountReserver
	canceller  PaymentCanceller
	dispatcher Dispatcher
	announcer  announce.Publisher
	clock      clock.Clock
	loc        *time.Location
	log        *logrus.Logger
}

func NewService(deps Dependencies) *Service {
	if deps.Table == nil {
		deps.Table = NewTable()
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Announcer == nil {
		deps.Announcer = announce.Nop{}
	}
	return &Service{
		table:      deps.Table,
		slots:      deps.Slots,
		backups:    deps.Backups,
		discounts:  deps.Discounts,
		canceller:  deps.Canceller,
		dispatcher: deps.Dispatcher,
		announcer:  deps.Announcer,
		clock:      deps.Clock,
		loc:        deps.Location,
		log:        deps.Logger,
	}
}

func (s *Service) Table() *Table { return s.table }

func (s *Service) List() []Hold { return s.table.List() }

func (s *Service) Get(ref string) (Hold, bool) { return s.table.Get(ref) }

// CreateHold claims req.SlotKeys for a payment reference, evicting every live
// hold that overlaps them.
func (s *Service) CreateHold(ctx context.Context, req CreateHoldRequest) (*CreateHoldResponse, error) {
	keys := dedupe(req.SlotKeys)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: at least one slot key is required", ErrValidation)
	}
	for _, k := range keys {
		if _, err := domain.ParseSlotKey(k); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	ref := strings.TrimSpace(req.PaymentRef)
	if ref == "" {
		ref = uuid.NewString()
	}
	provider := req.Provider
	if provider == "" {
		provider = domain.ProviderNets
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.Owns(ref) {
		return nil, ErrHoldExists
	}

	slots, err := s.slots.FindByKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if len(slots) != len(keys) {
		return nil, ErrSlotNotFound
	}
	for i := range slots {
		if slots[i].Available == domain.SlotBooked {
			return nil, fmt.Errorf("%w: %s", ErrSlotUnavailable, slots[i].SlotKey)
		}
		if slots[i].PaymentRef != nil && *slots[i].PaymentRef == ref {
			return nil, ErrHoldExists
		}
	}

	conflicts := FindConflicts(s.table.List(), keys)
	prior, err := s.priorBackups(ctx, slots)
	if err != nil {
		return nil, err
	}

	if req.DiscountCode != "" && s.discounts != nil {
		if err := s.discounts.ReserveDiscount(ctx, req.DiscountCode, ref); err != nil {
			return nil, fmt.Errorf("%w: discount %s: %v", ErrValidation, req.DiscountCode, err)
		}
	}

	now := s.clock.Now()
	for i := range slots {
		b := domain.NewSlotBackup(&slots[i], ref, domain.BackupPaymentInitialize, now, s.loc)
		if p, ok := prior[slots[i].SlotKey]; ok {
			b = carryBackup(p, ref, now, s.loc)
		}
		if err := s.backups.Create(ctx, b); err != nil {
			s.abandon(ctx, ref, req.DiscountCode)
			return nil, fmt.Errorf("snapshot %s: %w", slots[i].SlotKey, err)
		}
	}

	c := req.Customer.toDomain()
	fields := map[string]interface{}{
		"players":        c.Players,
		"booked_by":      c.Name,
		"contact_number": c.Phone,
		"contact_email":  c.Email,
		"info":           c.Info,
		"discount_code":  nullable(req.DiscountCode),
		"gift_card_ref":  nullable(req.GiftCardRef),
		"held_at":        now,
	}
	if err := s.slots.MarkHeld(ctx, keys, ref, fields); err != nil {
		s.abandon(ctx, ref, req.DiscountCode)
		if errors.Is(err, repository.ErrSlotsUnavailable) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("mark held: %w", err)
	}

	evicted := make([]string, 0, len(conflicts))
	for _, cf := range conflicts {
		s.evict(ctx, cf, ref)
		evicted = append(evicted, cf.Hold.PaymentRef)
	}

	h := Hold{
		PaymentRef:   ref,
		CreatedAt:    now,
		SlotKeys:     keys,
		DiscountCode: req.DiscountCode,
		GiftCardRef:  req.GiftCardRef,
		Kind:         KindBooking,
		Provider:     provider,
		Customer:     c,
	}
	s.table.Put(h)
	metrics.RecordHoldCreated(string(KindBooking))
	metrics.SetActiveHolds(s.table.Len())

	s.log.WithFields(logrus.Fields{
		"payment_ref": ref,
		"provider":    provider,
		"slots":       keys,
		"evicted":     evicted,
	}).Info("hold created")

	s.announce(announce.Event{
		Type:       announce.EventHoldsChanged,
		PaymentRef: ref,
		SlotKeys:   keys,
		Message:    evictionMessage(evicted),
		At:         now,
	})

	return &CreateHoldResponse{PaymentRef: ref, CreatedAt: now, SlotKeys: keys, Evicted: evicted}, nil
}

// HoldGiftCardPurchase registers a slot-less hold for a gift card being paid.
func (s *Service) HoldGiftCardPurchase(ctx context.Context, paymentRef, giftCardRef string, provider domain.ProviderKind) (Hold, error) {
	if paymentRef == "" || giftCardRef == "" {
		return Hold{}, fmt.Errorf("%w: payment and gift card references are required", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table.Owns(paymentRef) {
		return Hold{}, ErrHoldExists
	}
	h := Hold{
		PaymentRef:  paymentRef,
		CreatedAt:   s.clock.Now(),
		GiftCardRef: giftCardRef,
		Kind:        KindGiftCard,
		Provider:    provider,
	}
	s.table.Put(h)
	metrics.RecordHoldCreated(string(KindGiftCard))
	metrics.SetActiveHolds(s.table.Len())
	s.log.WithFields(logrus.Fields{"payment_ref": paymentRef, "gift_card_ref": giftCardRef}).Info("gift card hold created")
	return h, nil
}

// Release is the customer-abandon path. Releasing an unknown reference is a
// no-op.
func (s *Service) Release(ctx context.Context, paymentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.table.Remove(paymentRef)
	if !ok {
		return nil
	}
	metrics.SetActiveHolds(s.table.Len())

	restored, err := s.RestoreSlots(ctx, paymentRef, h.SlotKeys)
	if err != nil {
		s.table.Put(h)
		return err
	}
	if _, err := s.backups.DeleteByRef(ctx, paymentRef); err != nil {
		s.log.WithError(err).WithField("payment_ref", paymentRef).Warn("failed to delete backups after release")
	}
	s.releaseDiscount(ctx, h.DiscountCode, paymentRef)
	s.cancelPayment(h.Provider, paymentRef)
	metrics.RecordHoldReleased("abandoned")

	s.log.WithFields(logrus.Fields{"payment_ref": paymentRef, "restored": restored}).Info("hold released")
	s.announce(announce.Event{
		Type:       announce.EventSlotsReleased,
		PaymentRef: paymentRef,
		SlotKeys:   restored,
		At:         s.clock.Now(),
	})
	return nil
}

// Remove drops ref from the table without touching slots.
func (s *Service) Remove(ref string) (Hold, bool) {
	h, ok := s.table.Remove(ref)
	if ok {
		metrics.SetActiveHolds(s.table.Len())
	}
	return h, ok
}

// Expire hands every hold older than threshold to fn under the service lock
// and drops the holds fn reports as finished.
func (s *Service) Expire(now time.Time, threshold time.Duration, fn func(Hold) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, h := range s.table.OlderThan(now, threshold) {
		if fn(h) {
			s.table.Remove(h.PaymentRef)
			dropped++
		}
	}
	if dropped > 0 {
		metrics.SetActiveHolds(s.table.Len())
	}
	return dropped
}

// RestoreSlots puts every key still held under ref back to its backup and
// returns the keys that changed. Slots already claimed by another reference
// or finalized are left alone.
func (s *Service) RestoreSlots(ctx context.Context, ref string, keys []string) ([]string, error) {
	backups, err := s.backups.FindByRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load backups: %w", err)
	}
	byKey := make(map[string]domain.SlotBackup, len(backups))
	for _, b := range backups {
		byKey[b.SlotKey] = b
	}
	if len(keys) == 0 {
		for _, b := range backups {
			keys = append(keys, b.SlotKey)
		}
	}

	var restored []string
	for _, k := range keys {
		fields := openFields()
		if b, ok := byKey[k]; ok {
			fields = b.RestoreFields()
		}
		n, err := s.slots.UpdateSlot(ctx, repository.SlotFilter{Key: k, PaymentRef: ref, Available: domain.SlotHeld}, fields)
		if err != nil {
			return restored, fmt.Errorf("restore %s: %w", k, err)
		}
		if n > 0 {
			restored = append(restored, k)
		}
	}
	return restored, nil
}

// priorBackups finds, for slots still held under another reference, the
// snapshot taken before that reference claimed them.
func (s *Service) priorBackups(ctx context.Context, slots []domain.Slot) (map[string]domain.SlotBackup, error) {
	out := make(map[string]domain.SlotBackup)
	seen := make(map[string]bool)
	for _, sl := range slots {
		if sl.Available != domain.SlotHeld || sl.PaymentRef == nil || seen[*sl.PaymentRef] {
			continue
		}
		seen[*sl.PaymentRef] = true
		backups, err := s.backups.FindByRef(ctx, *sl.PaymentRef)
		if err != nil {
			return nil, fmt.Errorf("load backups of %s: %w", *sl.PaymentRef, err)
		}
		for _, b := range backups {
			out[b.SlotKey] = b
		}
	}
	return out, nil
}

// evict invalidates an overlapping hold after the new hold claimed the
// overlap. Its other slots go back to their snapshots and its backups are
// kept, tagged cancelled, for audit.
func (s *Service) evict(ctx context.Context, cf Conflict, newRef string) {
	old := cf.Hold
	entry := s.log.WithFields(logrus.Fields{"payment_ref": old.PaymentRef, "evicted_by": newRef, "overlap": cf.Overlap})

	s.table.Remove(old.PaymentRef)
	metrics.RecordHoldEvicted()

	if rest := difference(old.SlotKeys, cf.Overlap); len(rest) > 0 {
		if _, err := s.RestoreSlots(ctx, old.PaymentRef, rest); err != nil {
			entry.WithError(err).Error("failed to restore slots of evicted hold")
		}
	}
	if _, err := s.backups.Retag(ctx, old.PaymentRef, domain.BackupCancelled); err != nil {
		entry.WithError(err).Warn("failed to retag backups of evicted hold")
	}
	s.releaseDiscount(ctx, old.DiscountCode, old.PaymentRef)
	s.cancelPayment(old.Provider, old.PaymentRef)
	entry.WithError(ErrConflict).Info("hold evicted")
}

// abandon undoes the partial work of a failed CreateHold.
func (s *Service) abandon(ctx context.Context, ref, discountCode string) {
	if _, err := s.backups.DeleteByRef(ctx, ref); err != nil {
		s.log.WithError(err).WithField("payment_ref", ref).Warn("failed to delete backups of abandoned hold")
	}
	s.releaseDiscount(ctx, discountCode, ref)
}

func (s *Service) releaseDiscount(ctx context.Context, code, ref string) {
	if code == "" || s.discounts == nil {
		return
	}
	if err := s.discounts.ReleaseDiscount(ctx, code, ref); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"payment_ref": ref, "discount_code": code}).Warn("failed to release discount")
	}
}

// cancelPayment is attempted once and never retried from here.
func (s *Service) cancelPayment(provider domain.ProviderKind, ref string) {
	if s.canceller == nil || s.dispatcher == nil || provider == "" || provider == domain.ProviderGiftCard {
		return
	}
	s.dispatcher.SubmitOnce("payment.cancel", func(ctx context.Context) error {
		return s.canceller.Cancel(ctx, provider, ref)
	})
}

func (s *Service) announce(ev announce.Event) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.SubmitOnce("announce."+ev.Type, func(ctx context.Context) error {
		return s.announcer.Publish(ctx, ev)
	})
}

func carryBackup(prior domain.SlotBackup, ref string, at time.Time, loc *time.Location) *domain.SlotBackup {
	b := prior
	b.ID = 0
	b.PaymentRef = ref
	b.Source = domain.BackupPaymentInitialize
	b.CreatedAt = at.UTC()
	b.CreatedAtLocal = at.In(loc).Format(time.RFC3339)
	return &b
}

// openFields is the reset applied when a held slot has no backup.
func openFields() map[string]interface{} {
	return map[string]interface{}{
		"available":      domain.SlotOpen,
		"cost":           0,
		"players":        0,
		"booked_by":      nil,
		"contact_number": nil,
		"contact_email":  nil,
		"info":           nil,
		"discount":       0,
		"payment_ref":    nil,
		"discount_code":  nil,
		"gift_card_ref":  nil,
		"booking_ref":    nil,
		"payed_via":      nil,
		"booked_at":      nil,
		"held_at":        nil,
	}
}

func nullable(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func evictionMessage(evicted []string) string {
	if len(evicted) == 0 {
		return ""
	}
	return "evicted " + strings.Join(evicted, ",")
}

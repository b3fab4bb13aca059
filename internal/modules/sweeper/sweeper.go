// Package sweeper releases holds whose payment never completed.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"escaperoom/internal/clock"
	"escaperoom/internal/domain"
	"escaperoom/internal/metrics"
	"escaperoom/internal/modules/announce"
	"escaperoom/internal/modules/hold"
	"escaperoom/internal/repository"
)

const (
	DefaultInterval   = 5 * time.Minute
	DefaultStaleAfter = 30 * time.Minute
)

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

type Dependencies struct {
	Holds      Holds
	Slots      SlotStore
	Backups    BackupLedger
	Providers  Terminator
	Discounts  DiscountReleaser
	Alerts     AlertRaiser
	Dispatcher hold.Dispatcher
	Announcer  announce.Publisher
	Clock      clock.Clock
	Logger     *logrus.Logger
}

// Report summarizes one sweep.
type Report struct {
	Swept    []string `json:"swept"`
	Pending  []string `json:"pending,omitempty"`
	Released []string `json:"released"`
}

type Sweeper struct {
	cfg  Config
	deps Dependencies
	log  *logrus.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

func New(cfg Config, deps Dependencies) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Announcer == nil {
		deps.Announcer = announce.Nop{}
	}
	return &Sweeper{cfg: cfg, deps: deps, log: deps.Logger}
}

// Start sweeps every Interval until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	go func(stop <-chan struct{}, stopped chan<- struct{}) {
		defer close(stopped)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}(s.stop, s.stopped)

	s.log.WithFields(logrus.Fields{
		"interval":    s.cfg.Interval.String(),
		"stale_after": s.cfg.StaleAfter.String(),
	}).Info("sweeper started")
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	stop, stopped := s.stop, s.stopped
	s.stop, s.stopped = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
	s.log.Info("sweeper stopped")
}

// SweepOnce releases every hold strictly older than StaleAfter. A hold whose
// slots could not all be reset stays in the table for the next tick.
func (s *Sweeper) SweepOnce(ctx context.Context) Report {
	metrics.RecordSweep()
	now := s.deps.Clock.Now()
	report := Report{Swept: []string{}, Released: []string{}}

	s.deps.Holds.Expire(now, s.cfg.StaleAfter, func(h hold.Hold) bool {
		entry := s.log.WithFields(logrus.Fields{"payment_ref": h.PaymentRef, "provider": h.Provider, "age": now.Sub(h.CreatedAt).String()})
		if h.Kind == hold.KindGiftCard {
			metrics.RecordHoldReleased("expired")
			entry.Info("gift card hold expired")
			report.Swept = append(report.Swept, h.PaymentRef)
			return true
		}

		released, err := s.resetHold(ctx, h.PaymentRef, h.SlotKeys)
		report.Released = append(report.Released, released...)
		s.terminate(h.Provider, h.PaymentRef)
		if err != nil {
			entry.WithError(err).Warn("hold not fully released, retrying next sweep")
			report.Pending = append(report.Pending, h.PaymentRef)
			return false
		}

		if _, err := s.deps.Backups.DeleteByRef(ctx, h.PaymentRef); err != nil {
			entry.WithError(err).Warn("failed to delete backups of expired hold")
		}
		s.releaseDiscount(ctx, h.DiscountCode, h.PaymentRef)
		metrics.RecordHoldReleased("expired")
		entry.WithField("released", released).Info("expired hold released")
		report.Swept = append(report.Swept, h.PaymentRef)
		return true
	})

	// slots held by a previous process become orphans once they pass the threshold
	if err := s.recoverOrphans(ctx, now, &report); err != nil {
		s.log.WithError(err).Warn("orphan recovery incomplete, retrying next sweep")
	}

	if len(report.Released) > 0 {
		s.announce(announce.Event{
			Type:     announce.EventSlotsReleased,
			SlotKeys: report.Released,
			Message:  "expired " + strings.Join(report.Swept, ","),
			At:       now,
		})
	}
	return report
}

// RecoverOrphans resets slots left held by a reference no live hold owns,
// which is what a restart leaves behind. SweepOnce does the same on every tick.
func (s *Sweeper) RecoverOrphans(ctx context.Context) (Report, error) {
	now := s.deps.Clock.Now()
	report := Report{Swept: []string{}, Released: []string{}}
	err := s.recoverOrphans(ctx, now, &report)
	if len(report.Released) > 0 {
		s.announce(announce.Event{Type: announce.EventSlotsReleased, SlotKeys: report.Released, At: now})
	}
	return report, err
}

func (s *Sweeper) recoverOrphans(ctx context.Context, now time.Time, report *Report) error {
	slots, err := s.deps.Slots.FindHeldBefore(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return fmt.Errorf("find held slots: %w", err)
	}

	byRef := make(map[string][]string)
	codes := make(map[string]string)
	for _, sl := range slots {
		if sl.PaymentRef == nil {
			continue
		}
		ref := *sl.PaymentRef
		if _, live := s.deps.Holds.Get(ref); live {
			continue
		}
		byRef[ref] = append(byRef[ref], sl.SlotKey)
		if sl.DiscountCode != nil && *sl.DiscountCode != "" {
			codes[ref] = *sl.DiscountCode
		}
	}
	refs := make([]string, 0, len(byRef))
	for ref := range byRef {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	var (
		errs     []error
		released []string
	)
	for _, ref := range refs {
		keys, err := s.resetOrphan(ctx, ref, byRef[ref])
		released = append(released, keys...)
		if err != nil {
			errs = append(errs, err)
			report.Pending = append(report.Pending, ref)
			continue
		}
		if _, err := s.deps.Backups.DeleteByRef(ctx, ref); err != nil {
			s.log.WithError(err).WithField("payment_ref", ref).Warn("failed to delete backups of orphaned slots")
		}
		s.releaseDiscount(ctx, codes[ref], ref)
		metrics.RecordHoldReleased("orphaned")
		report.Swept = append(report.Swept, ref)
	}
	report.Released = append(report.Released, released...)

	if len(released) > 0 {
		s.log.WithFields(logrus.Fields{"refs": refs, "released": released}).Warn("orphaned slots released")
		s.raise(domain.CriticalAlert{
			Type:    domain.AlertOrphanedSlots,
			Message: fmt.Sprintf("Released %d slots held by unknown references: %s", len(released), strings.Join(released, ", ")),
		})
	}
	return errors.Join(errs...)
}

func (s *Sweeper) resetHold(ctx context.Context, ref string, keys []string) ([]string, error) {
	backups, err := s.deps.Backups.FindByRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load backups: %w", err)
	}
	discounts := make(map[string]int64, len(backups))
	for _, b := range backups {
		discounts[b.SlotKey] = b.Discount
	}
	return s.reset(ctx, ref, keys, discounts)
}

func (s *Sweeper) resetOrphan(ctx context.Context, ref string, keys []string) ([]string, error) {
	discounts := make(map[string]int64, len(keys))
	for _, k := range keys {
		b, err := s.deps.Backups.FindLatestByKey(ctx, k)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load backup of %s: %w", k, err)
		}
		if b.PaymentRef == ref {
			discounts[k] = b.Discount
		}
	}
	return s.reset(ctx, ref, keys, discounts)
}

// reset opens every key still held under ref. Keys without a backup get a
// zero discount.
func (s *Sweeper) reset(ctx context.Context, ref string, keys []string, discounts map[string]int64) ([]string, error) {
	var (
		released []string
		errs     []error
	)
	for _, k := range keys {
		n, err := s.deps.Slots.UpdateSlot(ctx,
			repository.SlotFilter{Key: k, PaymentRef: ref, Available: domain.SlotHeld},
			resetFields(discounts[k]),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", k, err))
			continue
		}
		if n > 0 {
			released = append(released, k)
		}
	}
	return released, errors.Join(errs...)
}

func (s *Sweeper) terminate(provider domain.ProviderKind, ref string) {
	if s.deps.Providers == nil || s.deps.Dispatcher == nil || provider == "" || provider == domain.ProviderGiftCard {
		return
	}
	s.deps.Dispatcher.SubmitOnce("payment.terminate", func(ctx context.Context) error {
		return s.deps.Providers.Terminate(ctx, provider, ref)
	})
}

func (s *Sweeper) releaseDiscount(ctx context.Context, code, ref string) {
	if code == "" || s.deps.Discounts == nil {
		return
	}
	if err := s.deps.Discounts.ReleaseDiscount(ctx, code, ref); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"payment_ref": ref, "discount_code": code}).Warn("failed to release discount")
	}
}

func (s *Sweeper) raise(a domain.CriticalAlert) {
	if s.deps.Alerts == nil || s.deps.Dispatcher == nil {
		return
	}
	s.deps.Dispatcher.Submit("alert.raise", func(ctx context.Context) error {
		return s.deps.Alerts.Raise(ctx, a)
	})
}

func (s *Sweeper) announce(ev announce.Event) {
	if s.deps.Dispatcher == nil {
		return
	}
	s.deps.Dispatcher.SubmitOnce("announce."+ev.Type, func(ctx context.Context) error {
		return s.deps.Announcer.Publish(ctx, ev)
	})
}

func resetFields(discount int64) map[string]interface{} {
	return map[string]interface{}{
		"available":      domain.SlotOpen,
		"discount":       discount,
		"players":        0,
		"payed_via":      nil,
		"cost":           0,
		"booked_by":      nil,
		"contact_number": nil,
		"contact_email":  nil,
		"info":           nil,
		"booking_ref":    nil,
		"payment_ref":    nil,
		"gift_card_ref":  nil,
		"discount_code":  nil,
		"booked_at":      nil,
		"held_at":        nil,
	}
}

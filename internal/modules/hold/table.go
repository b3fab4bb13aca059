package hold

import (
	"sort"
	"sync"
	"time"

	"escaperoom/internal/domain"
)

type Kind string

const (
	KindBooking  Kind = "booking"
	KindGiftCard Kind = "giftcard"
)

// Hold is a live, unpaid claim on a set of slots keyed by payment reference.
type Hold struct {
	PaymentRef   string              `json:"payment_ref"`
	CreatedAt    time.Time           `json:"created_at"`
	SlotKeys     []string            `json:"slot_keys"`
	DiscountCode string              `json:"discount_code,omitempty"`
	GiftCardRef  string              `json:"gift_card_ref,omitempty"`
	Kind         Kind                `json:"kind"`
	Provider     domain.ProviderKind `json:"provider,omitempty"`
	Customer     domain.Customer     `json:"customer"`
}

func (h Hold) clone() Hold {
	h.SlotKeys = append([]string(nil), h.SlotKeys...)
	return h
}

// Table is the process-local set of live holds. It is safe for concurrent
// use; callers that need check-then-act atomicity across several calls
// serialize on their own lock.
type Table struct {
	mu    sync.Mutex
	holds map[string]Hold
}

func NewTable() *Table {
	return &Table{holds: make(map[string]Hold)}
}

func (t *Table) Put(h Hold) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.holds[h.PaymentRef] = h.clone()
}

func (t *Table) Get(ref string) (Hold, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.holds[ref]
	if !ok {
		return Hold{}, false
	}
	return h.clone(), true
}

// Remove deletes ref and returns what was stored, if anything.
func (t *Table) Remove(ref string) (Hold, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.holds[ref]
	if !ok {
		return Hold{}, false
	}
	delete(t.holds, ref)
	return h, true
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.holds)
}

// List returns a copy of every hold, oldest first.
func (t *Table) List() []Hold {
	t.mu.Lock()
	out := make([]Hold, 0, len(t.holds))
	for _, h := range t.holds {
		out = append(out, h.clone())
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PaymentRef < out[j].PaymentRef
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// OlderThan returns holds whose age at now strictly exceeds threshold.
func (t *Table) OlderThan(now time.Time, threshold time.Duration) []Hold {
	var out []Hold
	for _, h := range t.List() {
		if now.Sub(h.CreatedAt) > threshold {
			out = append(out, h)
		}
	}
	return out
}

// Owns reports whether a live hold is registered under ref.
func (t *Table) Owns(ref string) bool {
	_, ok := t.Get(ref)
	return ok
}

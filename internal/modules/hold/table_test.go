package hold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTable_PutGetRemove(t *testing.T) {
	tbl := NewTable()
	now := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	tbl.Put(Hold{PaymentRef: "P1", CreatedAt: now, SlotKeys: []string{"a"}})

	h, ok := tbl.Get("P1")
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, h.SlotKeys)

	// callers get copies
	h.SlotKeys[0] = "changed"
	again, _ := tbl.Get("P1")
	assert.Equal(t, "a", again.SlotKeys[0])

	_, ok = tbl.Remove("P1")
	assert.True(t, ok)
	_, ok = tbl.Remove("P1")
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_ListOldestFirst(t *testing.T) {
	tbl := NewTable()
	base := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	tbl.Put(Hold{PaymentRef: "late", CreatedAt: base.Add(time.Minute)})
	tbl.Put(Hold{PaymentRef: "early", CreatedAt: base})
	tbl.Put(Hold{PaymentRef: "also-early", CreatedAt: base})

	list := tbl.List()
	refs := make([]string, 0, len(list))
	for _, h := range list {
		refs = append(refs, h.PaymentRef)
	}
	assert.Equal(t, []string{"also-early", "early", "late"}, refs)
}

func TestTable_OlderThanIsStrict(t *testing.T) {
	tbl := NewTable()
	created := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	tbl.Put(Hold{PaymentRef: "P1", CreatedAt: created})

	assert.Empty(t, tbl.OlderThan(created.Add(29*time.Minute), 30*time.Minute))
	assert.Empty(t, tbl.OlderThan(created.Add(30*time.Minute), 30*time.Minute))
	assert.Len(t, tbl.OlderThan(created.Add(31*time.Minute), 30*time.Minute), 1)
}

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClockAlwaysReturnsSameInstant(t *testing.T) {
	at := time.Date(2026, time.June, 12, 17, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	c := NewFixed(at)

	assert.Equal(t, at.UTC(), c.Now())
	assert.Equal(t, c.Now(), c.Now())
}

func TestManualClockAdvance(t *testing.T) {
	start := time.Date(2026, time.June, 12, 17, 0, 0, 0, time.UTC)
	c := NewManual(start)

	c.Advance(31 * time.Minute)
	assert.Equal(t, start.Add(31*time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

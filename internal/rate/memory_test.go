package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowAdmitsUpToLimit(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l := newLimiterAt(3, time.Minute, func() time.Time { return now })

	for want := 2; want >= 0; want-- {
		d := l.Take("write:1.2.3.4")
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
	}
	d := l.Take("write:1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, now.Add(time.Minute), d.ResetAt)
	assert.Equal(t, time.Minute, d.RetryAfter(now))

	assert.True(t, l.Take("write:5.6.7.8").Allowed, "keys are independent")
}

func TestWindowsAreClockAligned(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 40, 0, time.UTC)
	l := newLimiterAt(1, time.Minute, func() time.Time { return now })

	assert.True(t, l.Take("a").Allowed)
	d := l.Take("a")
	assert.False(t, d.Allowed)
	assert.Equal(t, 20*time.Second, d.RetryAfter(now))

	now = now.Add(20 * time.Second)
	assert.True(t, l.Take("a").Allowed)
}

func TestRolloverDropsOldCounters(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l := newLimiterAt(1, time.Second, func() time.Time { return now })
	l.Take("a")
	l.Take("b")
	assert.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	l.Take("c")
	assert.Equal(t, 1, l.Len())
}

func TestAllowedDecisionHasNoRetry(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l := newLimiterAt(0, 0, func() time.Time { return now })
	d := l.Take("a")
	assert.True(t, d.Allowed)
	assert.Equal(t, time.Duration(0), d.RetryAfter(now))
	assert.Equal(t, 1, l.Limit())
}

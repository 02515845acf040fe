package broadcast

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestUpgradeLimiterPerIP(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewUpgradeLimiter(1, 2)

	now := clock.Now()
	assert.True(t, l.Allow("10.0.0.1", now))
	assert.True(t, l.Allow("10.0.0.1", now))
	assert.False(t, l.Allow("10.0.0.1", now), "burst spent")
	assert.True(t, l.Allow("10.0.0.2", now), "other addresses keep their own bucket")

	clock.Advance(time.Second)
	assert.True(t, l.Allow("10.0.0.1", clock.Now()))
	assert.False(t, l.Allow("10.0.0.1", clock.Now()))
}

func TestUpgradeLimiterPurge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewUpgradeLimiter(5, 5)
	l.Allow("10.0.0.1", clock.Now())
	clock.Advance(time.Minute)
	l.Allow("10.0.0.2", clock.Now())
	assert.Equal(t, 2, l.Tracked())

	assert.Equal(t, 1, l.Purge(clock.Now(), 30*time.Second))
	assert.Equal(t, 1, l.Tracked())
}

func TestDisabledUpgradeLimiter(t *testing.T) {
	l := NewUpgradeLimiter(0, 10)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("10.0.0.1", time.Now()))
	}
	assert.Zero(t, l.Purge(time.Now(), 0))
}

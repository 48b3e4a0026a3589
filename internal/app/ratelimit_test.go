package app

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	mock := clock.NewMock()
	rl := NewRateLimiter(3, 10*time.Second, mock)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("alice"))
		mock.Add(time.Second)
	}
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))

	// the first attempt leaves the window
	mock.Add(7 * time.Second)
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
}

func TestRateLimiterDropsIdleIdentities(t *testing.T) {
	mock := clock.NewMock()
	rl := NewRateLimiter(3, 10*time.Second, mock)

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"))
	mock.Add(5 * time.Second)
	assert.True(t, rl.Allow("bob"))
	assert.Len(t, rl.history, 2)

	// alice's only attempt has left the window, bob's second has not
	mock.Add(6 * time.Second)
	assert.True(t, rl.Allow("carol"))
	assert.Len(t, rl.history, 2)
	assert.NotContains(t, rl.history, domain.IdentityName("alice"))
	assert.Contains(t, rl.history, domain.IdentityName("bob"))
}

func TestRateLimiterDisabled(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("alice"))

	rl := NewRateLimiter(0, time.Second, nil)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("alice"))
	}
}

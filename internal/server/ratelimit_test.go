package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock returns a limiter whose clock the test advances by hand.
func fakeClock(rl *RateLimiter, start time.Time) *time.Time {
	now := start
	rl.now = func() time.Time { return now }
	return &now
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 100, 1000)

	assert.NotNil(t, rl)
	assert.Equal(t, 10, rl.requestsPerMinute)
	assert.Equal(t, 100, rl.requestsPerHour)
	assert.Equal(t, 1000, rl.maxRequestsPerDay)
	assert.NotNil(t, rl.clients)
}

func TestRateLimiter_CheckRateLimit_NoLimits(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0)

	for range 50 {
		require.NoError(t, rl.CheckRateLimit("client1"))
	}
	assert.Equal(t, 50, rl.GetUsage("client1").requestsToday)
}

func TestRateLimiter_CheckRateLimit_RequestsPerMinute(t *testing.T) {
	rl := NewRateLimiter(2, 0, 0)

	assert.NoError(t, rl.CheckRateLimit("client1"))
	assert.NoError(t, rl.CheckRateLimit("client1"))

	err := rl.CheckRateLimit("client1")
	require.Error(t, err)

	rateLimitErr := &RateLimitError{}
	require.True(t, errors.As(err, &rateLimitErr))
	assert.Equal(t, "minute", rateLimitErr.Type)
	assert.Equal(t, 2, rateLimitErr.Limit)
	assert.Positive(t, rateLimitErr.RetryAfter)
}

func TestRateLimiter_CheckRateLimit_RequestsPerHour(t *testing.T) {
	rl := NewRateLimiter(0, 3, 0)

	for range 3 {
		assert.NoError(t, rl.CheckRateLimit("client1"))
	}

	err := rl.CheckRateLimit("client1")
	rateLimitErr := &RateLimitError{}
	require.True(t, errors.As(err, &rateLimitErr))
	assert.Equal(t, "hour", rateLimitErr.Type)
	assert.Equal(t, 3, rateLimitErr.Limit)
}

func TestRateLimiter_CheckRateLimit_MaxRequestsPerDay(t *testing.T) {
	rl := NewRateLimiter(0, 0, 2)

	assert.NoError(t, rl.CheckRateLimit("client1"))
	assert.NoError(t, rl.CheckRateLimit("client1"))

	err := rl.CheckRateLimit("client1")
	quotaErr := &QuotaExceededError{}
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, "requests", quotaErr.Type)
	assert.Equal(t, int64(2), quotaErr.Limit)
	assert.Equal(t, int64(2), quotaErr.Used)
	assert.True(t, quotaErr.Resets.After(time.Now()))
}

func TestRateLimiter_MinuteWindowIsFixed(t *testing.T) {
	rl := NewRateLimiter(1, 0, 0)
	now := fakeClock(rl, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	require.NoError(t, rl.CheckRateLimit("client1"))

	// Rejected requests inside the window do not extend it.
	*now = now.Add(30 * time.Second)
	err := rl.CheckRateLimit("client1")
	rateLimitErr := &RateLimitError{}
	require.True(t, errors.As(err, &rateLimitErr))
	assert.Equal(t, 30*time.Second, rateLimitErr.RetryAfter)

	*now = now.Add(30 * time.Second)
	assert.NoError(t, rl.CheckRateLimit("client1"))
}

func TestRateLimiter_DayReset(t *testing.T) {
	rl := NewRateLimiter(0, 0, 1)
	now := fakeClock(rl, time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC))

	require.NoError(t, rl.CheckRateLimit("client1"))
	require.Error(t, rl.CheckRateLimit("client1"))

	*now = now.Add(2 * time.Minute)
	assert.NoError(t, rl.CheckRateLimit("client1"))
	assert.Equal(t, 1, rl.GetUsage("client1").requestsToday)
}

func TestRateLimiter_GetUsage(t *testing.T) {
	rl := NewRateLimiter(10, 100, 1000)

	usage := rl.GetUsage("nonexistent")
	assert.Equal(t, 0, usage.requestsThisMinute)
	assert.True(t, usage.dayStart.IsZero())

	require.NoError(t, rl.CheckRateLimit("client1"))
	require.NoError(t, rl.CheckRateLimit("client1"))

	usage = rl.GetUsage("client1")
	assert.Equal(t, 2, usage.requestsThisMinute)
	assert.Equal(t, 2, usage.requestsThisHour)
	assert.Equal(t, 2, usage.requestsToday)
}

func TestRateLimiter_MultipleClients(t *testing.T) {
	rl := NewRateLimiter(2, 0, 0)

	assert.NoError(t, rl.CheckRateLimit("client1"))
	assert.NoError(t, rl.CheckRateLimit("client1"))
	assert.Error(t, rl.CheckRateLimit("client1"))

	assert.NoError(t, rl.CheckRateLimit("client2"))
	assert.NoError(t, rl.CheckRateLimit("client2"))
	assert.Error(t, rl.CheckRateLimit("client2"))
}

func TestRateLimitError_Error(t *testing.T) {
	err := &RateLimitError{Type: "minute", Limit: 10, RetryAfter: time.Minute * 5}
	assert.Equal(t, "rate limit exceeded for minute (limit: 10, retry after: 5m0s)", err.Error())
}

func TestQuotaExceededError_Error(t *testing.T) {
	err := &QuotaExceededError{
		Type:   "requests",
		Limit:  1000,
		Used:   1000,
		Resets: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "quota exceeded for requests (used: 1000, limit: 1000, resets: 2024-01-02T00:00:00Z)", err.Error())
}

func BenchmarkRateLimiter_CheckRateLimit(b *testing.B) {
	rl := NewRateLimiter(0, 0, 0)

	b.ResetTimer()
	for range b.N {
		_ = rl.CheckRateLimit("benchclient")
	}
}

package resilience

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcclowes/reqon/pkg/astmodel"
)

func TestRateLimiterNoHeadersSeenProceedsImmediately(t *testing.T) {
	rl := NewRateLimiter(nil)
	err := rl.WaitForCapacity(context.Background(), "api", "/x", astmodel.RateLimitConfig{Strategy: astmodel.RateLimitPause})
	require.NoError(t, err)
}

func TestRateLimiterFailStrategyReturnsImmediatelyWhenDepleted(t *testing.T) {
	rl := NewRateLimiter(nil)
	now := time.Now()
	rl.Now = func() time.Time { return now }

	rl.RecordHeaders("api", "/x", map[string]string{
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     fmtUnix(now.Add(time.Minute)),
	})

	err := rl.WaitForCapacity(context.Background(), "api", "/x", astmodel.RateLimitConfig{Strategy: astmodel.RateLimitFail})
	require.Error(t, err)
}

func TestRateLimiterResetInPastProceedsImmediately(t *testing.T) {
	rl := NewRateLimiter(nil)
	now := time.Now()
	rl.Now = func() time.Time { return now }

	rl.RecordHeaders("api", "/x", map[string]string{
		"X-RateLimit-Remaining": "0",
		"X-RateLimit-Reset":     fmtUnix(now.Add(-time.Minute)),
	})

	err := rl.WaitForCapacity(context.Background(), "api", "/x", astmodel.RateLimitConfig{Strategy: astmodel.RateLimitFail})
	assert.NoError(t, err)
}

func TestRateLimiterRetryAfterSecondsParsed(t *testing.T) {
	rl := NewRateLimiter(nil)
	now := time.Now()
	rl.Now = func() time.Time { return now }

	rl.RecordHeaders("api", "/x", map[string]string{"Retry-After": "5"})

	e := rl.entry("api", "/x")
	e.mu.Lock()
	defer e.mu.Unlock()
	assert.WithinDuration(t, now.Add(5*time.Second), e.retryAfterUntil, time.Second)
}

func TestRateLimiterHonorsRetryAfterEvenWhenRemainingStillPositive(t *testing.T) {
	rl := NewRateLimiter(nil)
	now := time.Now()
	rl.Now = func() time.Time { return now }

	// A prior successful response left remaining at a positive count.
	rl.RecordHeaders("api", "/x", map[string]string{
		"X-RateLimit-Remaining": "50",
		"X-RateLimit-Reset":     fmtUnix(now.Add(time.Minute)),
	})
	// Then a 429 arrives with only Retry-After set, no updated remaining.
	rl.RecordHeaders("api", "/x", map[string]string{"Retry-After": "5"})

	err := rl.WaitForCapacity(context.Background(), "api", "/x", astmodel.RateLimitConfig{Strategy: astmodel.RateLimitFail})
	require.Error(t, err, "Retry-After must be honored even though remaining's last known value was positive")
}

func fmtUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

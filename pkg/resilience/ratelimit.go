// Package resilience implements the rate limiter and circuit breaker
// shared across requests to a source. Both are keyed by (source, endpoint)
// and guarded by a per-key mutex so no lock is ever held across a
// suspension point.
package resilience

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/events"
	"github.com/mcclowes/reqon/pkg/metrics"
	"github.com/mcclowes/reqon/pkg/rerrors"
)

// key identifies one rate-limit / circuit-breaker bucket.
type key struct {
	source   string
	endpoint string
}

// limiterEntry is the per-key rate-limit state.
type limiterEntry struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetAt   time.Time
	// retryAfterUntil is tracked independently of remaining: a 429 can
	// arrive with only Retry-After set and no updated remaining count, and
	// must still be honored even if remaining's last known value was
	// positive.
	retryAfterUntil time.Time
	hasHeaders      bool
	lastRequestAt   time.Time
}

// RateLimiter tracks per-(source, endpoint) quota state and enforces the
// configured depletion strategy before a request proceeds.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[key]*limiterEntry
	broker  *events.Broker

	maxStaleAge    time.Duration
	pruneThreshold int

	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// NewRateLimiter creates a limiter that publishes wait/resume signals to
// broker (may be nil to disable events).
func NewRateLimiter(broker *events.Broker) *RateLimiter {
	return &RateLimiter{
		entries:        make(map[key]*limiterEntry),
		broker:         broker,
		maxStaleAge:    time.Hour,
		pruneThreshold: 1000,
		Now:            time.Now,
	}
}

func (r *RateLimiter) entry(source, endpoint string) *limiterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{source, endpoint}
	e, ok := r.entries[k]
	if !ok {
		e = &limiterEntry{}
		r.entries[k] = e
	}
	return e
}

// WaitForCapacity blocks (per cfg.Strategy) until the request may proceed,
// or returns RateLimited under strategy "fail" or a timed-out "pause".
func (r *RateLimiter) WaitForCapacity(ctx context.Context, source, endpoint string, cfg astmodel.RateLimitConfig) error {
	e := r.entry(source, endpoint)

	e.mu.Lock()
	now := r.Now()

	deadline := e.retryAfterUntil
	if e.resetAt.After(deadline) {
		deadline = e.resetAt
	}

	quotaDepleted := e.hasHeaders && e.remaining <= 0 && e.resetAt.After(now)
	retryAfterActive := e.retryAfterUntil.After(now)
	depleted := quotaDepleted || retryAfterActive
	if !depleted {
		e.lastRequestAt = now
		e.mu.Unlock()
		return nil
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = astmodel.RateLimitPause
	}
	maxWait := cfg.MaxWaitMS
	if maxWait <= 0 {
		maxWait = 300_000
	}

	switch strategy {
	case astmodel.RateLimitFail:
		e.mu.Unlock()
		return &rerrors.RateLimited{Source: source, Endpoint: endpoint, ResetAtMS: deadline.UnixMilli()}

	case astmodel.RateLimitThrottle:
		remaining := e.remaining
		if remaining < 1 {
			remaining = 1
		}
		fallbackRPM := cfg.FallbackRPM
		if fallbackRPM <= 0 {
			fallbackRPM = 60
		}
		var delay time.Duration
		if e.hasHeaders {
			untilReset := deadline.Sub(now)
			delay = untilReset / time.Duration(remaining)
		} else {
			delay = time.Minute / time.Duration(fallbackRPM)
		}
		e.mu.Unlock()
		r.publish(events.RateLimited, source, endpoint, "")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		r.publish(events.RateResumed, source, endpoint, "")
		e.mu.Lock()
		e.lastRequestAt = r.Now()
		e.mu.Unlock()
		return nil

	default: // pause
		wait := deadline.Sub(now)
		if wait > time.Duration(maxWait)*time.Millisecond {
			e.mu.Unlock()
			return &rerrors.RateLimited{Source: source, Endpoint: endpoint, ResetAtMS: deadline.UnixMilli()}
		}
		e.mu.Unlock()

		r.publish(events.RateLimited, source, endpoint, "")
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.publish(events.RateResumed, source, endpoint, "")

		e.mu.Lock()
		e.lastRequestAt = r.Now()
		e.hasHeaders = false
		e.mu.Unlock()
		return nil
	}
}

// RecordHeaders updates limiter state from response headers. Accepts both
// X-RateLimit-* and RateLimit-* prefixes, Retry-After as seconds or an
// HTTP-date, and Unix seconds or milliseconds for reset.
func (r *RateLimiter) RecordHeaders(source, endpoint string, headers map[string]string) {
	e := r.entry(source, endpoint)
	e.mu.Lock()

	now := r.Now()

	if v, ok := lookupHeader(headers, "X-RateLimit-Remaining", "RateLimit-Remaining"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			e.remaining = n
			e.hasHeaders = true
		}
	}
	if v, ok := lookupHeader(headers, "X-RateLimit-Limit", "RateLimit-Limit"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			e.limit = n
		}
	}
	if v, ok := lookupHeader(headers, "X-RateLimit-Reset", "RateLimit-Reset"); ok {
		if t, ok := parseEpoch(v); ok {
			e.resetAt = t
			e.hasHeaders = true
		}
	}
	if v, ok := lookupHeader(headers, "Retry-After"); ok {
		if t, ok := parseRetryAfter(v, now); ok {
			e.retryAfterUntil = t
			e.hasHeaders = true
		}
	}
	e.mu.Unlock()

	r.maybePrune()
}

func (r *RateLimiter) maybePrune() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) <= r.pruneThreshold {
		return
	}
	now := r.Now()
	for k, e := range r.entries {
		e.mu.Lock()
		stale := now.Sub(e.lastRequestAt) > r.maxStaleAge
		e.mu.Unlock()
		if stale {
			delete(r.entries, k)
		}
	}
}

func (r *RateLimiter) publish(t events.Type, source, endpoint, msg string) {
	switch t {
	case events.RateLimited:
		metrics.RateLimitWaitsTotal.WithLabelValues(source, endpoint).Inc()
	}
	if r.broker == nil {
		return
	}
	r.broker.Publish(&events.Event{Type: t, Source: source, Endpoint: endpoint, Message: msg})
}

func lookupHeader(headers map[string]string, names ...string) (string, bool) {
	for _, n := range names {
		for k, v := range headers {
			if strings.EqualFold(k, n) {
				return v, true
			}
		}
	}
	return "", false
}

func parseEpoch(v string) (time.Time, bool) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}

func parseRetryAfter(v string, now time.Time) (time.Time, bool) {
	if secs, err := strconv.Atoi(v); err == nil {
		return now.Add(time.Duration(secs) * time.Second), true
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}

package resilience

import (
	"sync"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/events"
	"github.com/mcclowes/reqon/pkg/metrics"
	"github.com/mcclowes/reqon/pkg/rerrors"
)

// CircuitState enumerates the three circuit-breaker states.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type failureRecord struct {
	at time.Time
}

// circuitEntry is the per-(source,endpoint) state machine.
type circuitEntry struct {
	mu        sync.Mutex
	state     CircuitState
	failures  []failureRecord
	openedAt  time.Time
	successes int
	probing   bool
}

// CircuitBreaker tracks failure rates per (source, endpoint) and rejects
// requests while open.
type CircuitBreaker struct {
	mu      sync.Mutex
	entries map[key]*circuitEntry
	broker  *events.Broker

	Now func() time.Time
}

// NewCircuitBreaker creates a breaker that publishes open/half-open/close
// signals to broker (may be nil).
func NewCircuitBreaker(broker *events.Broker) *CircuitBreaker {
	return &CircuitBreaker{
		entries: make(map[key]*circuitEntry),
		broker:  broker,
		Now:     time.Now,
	}
}

func (c *CircuitBreaker) entry(source, endpoint string) *circuitEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{source, endpoint}
	e, ok := c.entries[k]
	if !ok {
		e = &circuitEntry{state: CircuitClosed}
		c.entries[k] = e
	}
	return e
}

// Allow consults the breaker before a request is issued. Returns
// CircuitOpen if the request must be rejected; otherwise it may mark the
// (single) half-open probe as in flight.
func (c *CircuitBreaker) Allow(source, endpoint string, cfg astmodel.CircuitConfig) error {
	e := c.entry(source, endpoint)
	e.mu.Lock()
	defer e.mu.Unlock()

	resetTimeout := time.Duration(cfg.ResetTimeoutMS) * time.Millisecond
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	now := c.Now()

	switch e.state {
	case CircuitOpen:
		if now.Before(e.openedAt.Add(resetTimeout)) {
			metrics.CircuitRejectionsTotal.WithLabelValues(source, endpoint).Inc()
			c.publish(events.CircuitRejected, source, endpoint)
			return &rerrors.CircuitOpen{
				Source:   source,
				Endpoint: endpoint,
				RetryIn:  e.openedAt.Add(resetTimeout).Sub(now).Milliseconds(),
			}
		}
		e.state = CircuitHalfOpen
		e.successes = 0
		e.probing = false
		c.publish(events.CircuitHalfOpen, source, endpoint)
		fallthrough

	case CircuitHalfOpen:
		if e.probing {
			metrics.CircuitRejectionsTotal.WithLabelValues(source, endpoint).Inc()
			c.publish(events.CircuitRejected, source, endpoint)
			return &rerrors.CircuitOpen{Source: source, Endpoint: endpoint, RetryIn: 0}
		}
		e.probing = true
		return nil

	default: // closed
		return nil
	}
}

// RecordResult reports the outcome of a request that Allow permitted.
// isFailure is status-in-failureStatusCodes or a network error (per cfg).
func (c *CircuitBreaker) RecordResult(source, endpoint string, cfg astmodel.CircuitConfig, isFailure bool) {
	e := c.entry(source, endpoint)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := c.Now()

	switch e.state {
	case CircuitHalfOpen:
		e.probing = false
		if isFailure {
			e.state = CircuitOpen
			e.openedAt = now
			e.failures = nil
			c.publish(events.CircuitOpened, source, endpoint)
			return
		}
		threshold := cfg.SuccessThreshold
		if threshold <= 0 {
			threshold = 2
		}
		e.successes++
		if e.successes >= threshold {
			e.state = CircuitClosed
			e.failures = nil
			c.publish(events.CircuitClosed, source, endpoint)
		}

	default: // closed (Open shouldn't reach here; Allow rejects first)
		if !isFailure {
			return
		}
		window := time.Duration(cfg.FailureWindowMS) * time.Millisecond
		if window <= 0 {
			window = 60 * time.Second
		}
		cutoff := now.Add(-window)
		kept := e.failures[:0]
		for _, f := range e.failures {
			if f.at.After(cutoff) {
				kept = append(kept, f)
			}
		}
		kept = append(kept, failureRecord{at: now})
		e.failures = kept

		threshold := failureThreshold(cfg)
		if len(e.failures) >= threshold {
			e.state = CircuitOpen
			e.openedAt = now
			c.publish(events.CircuitOpened, source, endpoint)
		}
	}
}

// IsFailureStatus reports whether an HTTP status counts as a breaker
// failure under cfg (default range 500-599).
func IsFailureStatus(status int, cfg astmodel.CircuitConfig) bool {
	min := cfg.FailureStatusMin
	if min <= 0 {
		min = 500
	}
	max := cfg.FailureStatusMax
	if max <= 0 {
		max = 599
	}
	return status >= min && status <= max
}

func failureThreshold(cfg astmodel.CircuitConfig) int {
	if cfg.FailureThreshold > 0 {
		return cfg.FailureThreshold
	}
	return 5
}

func (c *CircuitBreaker) publish(t events.Type, source, endpoint string) {
	switch t {
	case events.CircuitClosed:
		metrics.CircuitState.WithLabelValues(source, endpoint).Set(0)
	case events.CircuitHalfOpen:
		metrics.CircuitState.WithLabelValues(source, endpoint).Set(1)
	case events.CircuitOpened:
		metrics.CircuitState.WithLabelValues(source, endpoint).Set(2)
	}
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{Type: t, Source: source, Endpoint: endpoint})
}

// State reports the current state for a key. The circuit-state gauge is
// set in publish, not from here.
func (c *CircuitBreaker) State(source, endpoint string) CircuitState {
	e := c.entry(source, endpoint)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

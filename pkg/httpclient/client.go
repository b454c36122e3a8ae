// Package httpclient issues a single resilient HTTP request: circuit
// breaker consultation, rate-limit wait, auth resolution (with OAuth2
// refresh coalescing), the request itself, then retry/backoff on 429/5xx
// and an at-most-one 401 refresh-and-retry. Pagination and step handlers
// are built on top of Client.Do.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/auth"
	"github.com/mcclowes/reqon/pkg/events"
	"github.com/mcclowes/reqon/pkg/log"
	"github.com/mcclowes/reqon/pkg/metrics"
	"github.com/mcclowes/reqon/pkg/rerrors"
	"github.com/mcclowes/reqon/pkg/resilience"
	"github.com/mcclowes/reqon/pkg/value"
)

var defaultRetry = astmodel.RetryPolicy{
	MaxAttempts:  3,
	Backoff:      astmodel.BackoffExponential,
	InitialDelay: 500,
	MaxDelay:     30_000,
}

// QueryParam is one ordered query parameter with an already-resolved
// string value.
type QueryParam struct {
	Name  string
	Value string
}

// Request is a fully-resolved outbound call: path templates interpolated,
// expression nodes evaluated to values, ready to send.
type Request struct {
	Source   string
	Endpoint string // rate-limit/circuit key; defaults to the URL path
	Method   string
	URL      string
	Query    []QueryParam
	Body     value.Value // value.Null() for no body
	Headers  map[string]string
	Retry    *astmodel.RetryPolicy
}

// Response is a completed call's parsed result.
type Response struct {
	Status  int
	Body    value.Value
	Headers map[string]string
	Raw     []byte
}

// Client issues resilient requests on behalf of a set of configured
// sources.
type Client struct {
	HTTP     *http.Client
	Limiter  *resilience.RateLimiter
	Breaker  *resilience.CircuitBreaker
	Auth     *auth.Provider
	Broker   *events.Broker
	Sources  map[string]*astmodel.Source

	// Sleep and Jitter are overridable for deterministic tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func() float64
}

// New builds a Client wired to the given resilience and auth components.
func New(sources map[string]*astmodel.Source, limiter *resilience.RateLimiter, breaker *resilience.CircuitBreaker, provider *auth.Provider, broker *events.Broker) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 60 * time.Second},
		Limiter: limiter,
		Breaker: breaker,
		Auth:    provider,
		Broker:  broker,
		Sources: sources,
		Sleep:   contextSleep,
		Jitter:  rand.Float64,
	}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes req against its configured source, retrying per policy.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	src, ok := c.Sources[req.Source]
	if !ok {
		return nil, &rerrors.ConfigError{Reason: fmt.Sprintf("unknown source %q", req.Source)}
	}

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = requestPath(req.URL)
	}

	retry := defaultRetry
	if req.Retry != nil {
		retry = *req.Retry
		if retry.MaxAttempts <= 0 {
			retry.MaxAttempts = defaultRetry.MaxAttempts
		}
		if retry.InitialDelay <= 0 {
			retry.InitialDelay = defaultRetry.InitialDelay
		}
		if retry.MaxDelay <= 0 {
			retry.MaxDelay = defaultRetry.MaxDelay
		}
		if retry.Backoff == "" {
			retry.Backoff = defaultRetry.Backoff
		}
	}

	logger := log.WithSource(req.Source)
	refreshed := false

	for attempt := 1; ; attempt++ {
		if err := c.Breaker.Allow(req.Source, endpoint, src.Circuit); err != nil {
			return nil, err
		}
		if err := c.Limiter.WaitForCapacity(ctx, req.Source, endpoint, src.RateLimit); err != nil {
			return nil, err
		}

		headers := cloneHeaders(req.Headers)
		if src.Auth.Kind != "" && src.Auth.Kind != astmodel.AuthNone && c.Auth != nil {
			name, value, err := c.Auth.Header(ctx, req.Source)
			if err != nil {
				return nil, err
			}
			if name != "" {
				headers[name] = value
			}
		}

		httpReq, err := c.buildRequest(ctx, req, headers)
		if err != nil {
			return nil, &rerrors.ConfigError{Reason: "building request", Cause: err}
		}

		c.publish(events.FetchStart, req.Source, endpoint, events.FetchDetail{Method: req.Method, Path: endpoint, Attempt: attempt})

		timer := metrics.NewTimer()
		resp, doErr := c.HTTP.Do(httpReq)
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, req.Source)

		if doErr != nil {
			c.Breaker.RecordResult(req.Source, endpoint, src.Circuit, true)
			logger.Warn().Err(doErr).Int("attempt", attempt).Msg("request failed")
			if attempt >= retry.MaxAttempts {
				c.publish(events.FetchError, req.Source, endpoint, events.FetchDetail{Method: req.Method, Path: endpoint, Attempt: attempt})
				return nil, &rerrors.NetworkError{URL: req.URL, Cause: doErr}
			}
			metrics.HTTPRetriesTotal.WithLabelValues(req.Source).Inc()
			c.publish(events.FetchRetry, req.Source, endpoint, events.FetchDetail{Method: req.Method, Path: endpoint, Attempt: attempt})
			if err := c.Sleep(ctx, backoffDelay(attempt, retry, c.Jitter)); err != nil {
				return nil, err
			}
			continue
		}

		respHeaders := extractHeaders(resp)
		c.Limiter.RecordHeaders(req.Source, endpoint, respHeaders)

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, &rerrors.NetworkError{URL: req.URL, Cause: readErr}
		}

		metrics.HTTPRequestsTotal.WithLabelValues(req.Source, strconv.Itoa(resp.StatusCode)).Inc()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt >= retry.MaxAttempts {
				return nil, &rerrors.HTTPError{Status: resp.StatusCode, Body: string(body), URL: req.URL}
			}
			c.publish(events.FetchRetry, req.Source, endpoint, events.FetchDetail{Method: req.Method, Path: endpoint, Status: resp.StatusCode, Attempt: attempt})
			continue

		case resilience.IsFailureStatus(resp.StatusCode, src.Circuit):
			c.Breaker.RecordResult(req.Source, endpoint, src.Circuit, true)
			if attempt >= retry.MaxAttempts {
				c.publish(events.FetchError, req.Source, endpoint, events.FetchDetail{Method: req.Method, Path: endpoint, Status: resp.StatusCode, Attempt: attempt})
				return nil, &rerrors.HTTPError{Status: resp.StatusCode, Body: string(body), URL: req.URL}
			}
			if err := c.Sleep(ctx, backoffDelay(attempt, retry, c.Jitter)); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized && !refreshed && c.Auth != nil && c.Auth.CanRefresh(req.Source):
			refreshed = true
			if err := c.Auth.Refresh(ctx, req.Source); err != nil {
				return nil, err
			}
			continue

		default:
			c.Breaker.RecordResult(req.Source, endpoint, src.Circuit, false)
			parsed := parseBody(body, resp.Header.Get("Content-Type"))
			result := &Response{Status: resp.StatusCode, Body: parsed, Headers: respHeaders, Raw: body}
			c.publish(events.FetchComplete, req.Source, endpoint, events.FetchDetail{Method: req.Method, Path: endpoint, Status: resp.StatusCode, Attempt: attempt})
			if resp.StatusCode >= 400 {
				return result, &rerrors.HTTPError{Status: resp.StatusCode, Body: string(body), URL: req.URL}
			}
			return result, nil
		}
	}
}

func (c *Client) buildRequest(ctx context.Context, req Request, headers map[string]string) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for _, p := range req.Query {
			q.Set(p.Name, p.Value)
		}
		u.RawQuery = encodeOrdered(req.Query, q)
	}

	var bodyReader io.Reader
	if !req.Body.IsNull() {
		b, err := json.Marshal(req.Body.ToNative())
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	if bodyReader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// encodeOrdered renders the query string preserving the caller's
// insertion order (net/url.Values.Encode sorts keys alphabetically, which
// the request contract explicitly rules out for reproducibility).
func encodeOrdered(params []QueryParam, merged url.Values) string {
	var b strings.Builder
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(merged.Get(p.Name)))
	}
	return b.String()
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func extractHeaders(resp *http.Response) map[string]string {
	out := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		out[k] = resp.Header.Get(k)
	}
	return out
}

func requestPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

func parseBody(body []byte, contentType string) value.Value {
	if len(body) == 0 {
		return value.Null()
	}
	if strings.Contains(contentType, "json") {
		var native interface{}
		if err := json.Unmarshal(body, &native); err == nil {
			return value.FromNative(native)
		}
	}
	return value.String(string(body))
}

// backoffDelay computes delay_n = clamp(initialDelay * f(n), 0, maxDelay)
// with f(n) per the configured backoff shape, then applies +/-10% jitter.
func backoffDelay(attempt int, retry astmodel.RetryPolicy, jitter func() float64) time.Duration {
	var f float64
	switch retry.Backoff {
	case astmodel.BackoffLinear:
		f = float64(attempt)
	case astmodel.BackoffConstant:
		f = 1
	default: // exponential
		f = math.Pow(2, float64(attempt-1))
	}

	delayMS := float64(retry.InitialDelay) * f
	if max := float64(retry.MaxDelay); delayMS > max {
		delayMS = max
	}
	if delayMS < 0 {
		delayMS = 0
	}

	j := 1.0
	if jitter != nil {
		j = 1 + (jitter()*2-1)*0.1
	}
	return time.Duration(delayMS*j) * time.Millisecond
}

func (c *Client) publish(t events.Type, source, endpoint string, detail events.FetchDetail) {
	if c.Broker == nil {
		return
	}
	c.Broker.Publish(&events.Event{Type: t, Source: source, Endpoint: endpoint, Detail: detail})
}

package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/rerrors"
)

// Refresher performs the network call that exchanges a refresh token for a
// new access token. Implementations wrap the actual token endpoint; tests
// supply a fake. Kept as an interface so oauth2 refresh never depends
// directly on the HTTP client package (that package depends on auth, not
// the reverse).
type Refresher interface {
	Refresh(ctx context.Context, c *Credential) (accessToken string, expiresIn time.Duration, err error)
}

// sourceState is the per-source refresh-coalescing guard: concurrent
// callers that observe a need to refresh share one in-flight attempt.
type sourceState struct {
	mu         sync.Mutex
	refreshing bool
	done       chan struct{}
	err        error
}

// Provider resolves the current auth header for a source and coalesces
// OAuth2 refreshes so concurrent requests never issue duplicate refresh
// calls for the same source.
type Provider struct {
	mu         sync.RWMutex
	creds      map[string]*Credential
	refresher  Refresher
	refreshBuf time.Duration
	states     map[string]*sourceState
}

// NewProvider builds a Provider over already-resolved credentials.
// refreshBuffer defaults to 5 minutes when zero.
func NewProvider(creds map[string]*Credential, refresher Refresher, refreshBuffer time.Duration) *Provider {
	if refreshBuffer <= 0 {
		refreshBuffer = 5 * time.Minute
	}
	return &Provider{
		creds:      creds,
		refresher:  refresher,
		refreshBuf: refreshBuffer,
		states:     make(map[string]*sourceState),
	}
}

func (p *Provider) state(source string) *sourceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.states[source]
	if !ok {
		s = &sourceState{}
		p.states[source] = s
	}
	return s
}

func (p *Provider) credential(source string) (*Credential, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.creds[source]
	if !ok {
		return nil, &rerrors.AuthError{Source: source, Reason: "no credential configured"}
	}
	return c, nil
}

// NeedsProactiveRefresh reports whether an oauth2 credential's known
// expiry falls inside the refresh buffer (or has already passed).
func (p *Provider) NeedsProactiveRefresh(source string) bool {
	c, err := p.credential(source)
	if err != nil || c.Type != astmodel.AuthOAuth2 || c.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(p.refreshBuf).After(c.ExpiresAt)
}

// EnsureFresh refreshes an oauth2 credential if it is missing an access
// token or within the refresh buffer of expiry. Concurrent callers for the
// same source coalesce behind a single in-flight refresh.
func (p *Provider) EnsureFresh(ctx context.Context, source string) error {
	c, err := p.credential(source)
	if err != nil {
		return err
	}
	if c.Type != astmodel.AuthOAuth2 {
		return nil
	}
	if c.AccessToken != "" && !p.NeedsProactiveRefresh(source) {
		return nil
	}
	return p.Refresh(ctx, source)
}

// Refresh performs (or waits for) a single in-flight refresh for source.
func (p *Provider) Refresh(ctx context.Context, source string) error {
	c, err := p.credential(source)
	if err != nil {
		return err
	}
	if c.Type != astmodel.AuthOAuth2 {
		return &rerrors.AuthError{Source: source, Reason: "credential type does not support refresh"}
	}
	if p.refresher == nil {
		return &rerrors.AuthError{Source: source, Reason: "no refresher configured"}
	}

	st := p.state(source)
	st.mu.Lock()
	if st.refreshing {
		done := st.done
		st.mu.Unlock()
		select {
		case <-done:
			st.mu.Lock()
			err := st.err
			st.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	st.refreshing = true
	st.done = make(chan struct{})
	st.mu.Unlock()

	accessToken, expiresIn, refreshErr := p.refresher.Refresh(ctx, c)

	if refreshErr == nil {
		p.mu.Lock()
		c.AccessToken = accessToken
		if expiresIn > 0 {
			c.ExpiresAt = time.Now().Add(expiresIn)
		}
		p.mu.Unlock()
	}

	st.mu.Lock()
	if refreshErr != nil {
		st.err = &rerrors.AuthError{Source: source, Reason: "oauth2 refresh failed", Cause: refreshErr}
	} else {
		st.err = nil
	}
	err = st.err
	st.refreshing = false
	close(st.done)
	st.mu.Unlock()
	return err
}

// Header returns the (name, value) pair to attach to an outgoing request
// for source, proactively refreshing an oauth2 credential nearing expiry
// first.
func (p *Provider) Header(ctx context.Context, source string) (string, string, error) {
	if err := p.EnsureFresh(ctx, source); err != nil {
		return "", "", err
	}
	c, err := p.credential(source)
	if err != nil {
		return "", "", err
	}

	switch c.Type {
	case astmodel.AuthNone:
		return "", "", nil
	case astmodel.AuthBearer:
		return "Authorization", "Bearer " + c.Token, nil
	case astmodel.AuthAPIKey:
		return c.HeaderName, c.APIKey, nil
	case astmodel.AuthBasic:
		return "Authorization", basicAuthValue(c.Username, c.Password), nil
	case astmodel.AuthOAuth2:
		p.mu.RLock()
		token := c.AccessToken
		p.mu.RUnlock()
		return "Authorization", "Bearer " + token, nil
	default:
		return "", "", &rerrors.AuthError{Source: source, Reason: fmt.Sprintf("unsupported auth kind %q", c.Type)}
	}
}

// CanRefresh reports whether source's credential supports a 401-triggered
// refresh-and-retry.
func (p *Provider) CanRefresh(source string) bool {
	c, err := p.credential(source)
	if err != nil {
		return false
	}
	return c.Type == astmodel.AuthOAuth2 && p.refresher != nil
}

func basicAuthValue(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

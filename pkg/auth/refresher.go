package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcclowes/reqon/pkg/rerrors"
)

// HTTPRefresher is the production Refresher: it exchanges a credential's
// refresh token for a new access token against its TokenURL using the
// standard OAuth2 refresh_token grant.
type HTTPRefresher struct {
	HTTP *http.Client
}

// NewHTTPRefresher builds a refresher over client, or a default 30s-timeout
// client when nil.
func NewHTTPRefresher(client *http.Client) *HTTPRefresher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRefresher{HTTP: client}
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// Refresh implements Refresher.
func (r *HTTPRefresher) Refresh(ctx context.Context, c *Credential) (string, time.Duration, error) {
	if c.TokenURL == "" {
		return "", 0, fmt.Errorf("credential has no tokenUrl configured")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.RefreshToken},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", 0, &rerrors.HTTPError{Status: resp.StatusCode, URL: c.TokenURL}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", 0, err
	}
	if tok.AccessToken == "" {
		return "", 0, fmt.Errorf("token response carried no access_token")
	}

	var expiresIn time.Duration
	if tok.ExpiresIn != "" {
		if secs, err := strconv.ParseInt(tok.ExpiresIn.String(), 10, 64); err == nil {
			expiresIn = time.Duration(secs) * time.Second
		}
	}
	return tok.AccessToken, expiresIn, nil
}

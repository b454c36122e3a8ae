// Package auth resolves per-source credentials from a JSON credentials
// file and the process environment, and exposes the header-producing,
// refresh-coalescing Provider the HTTP client consults on every attempt.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mcclowes/reqon/pkg/astmodel"
	"github.com/mcclowes/reqon/pkg/rerrors"
)

// Credential is one resolved entry of the credentials file, after
// environment interpolation and REQON_{SOURCE}_{FIELD} auto-discovery have
// been applied.
type Credential struct {
	Type astmodel.AuthKind

	Token        string // bearer
	APIKey       string
	HeaderName   string // api_key; default "X-API-Key"
	Username     string // basic
	Password     string // basic
	AccessToken  string // oauth2
	RefreshToken string // oauth2
	ClientID     string // oauth2
	ClientSecret string // oauth2
	TokenURL     string // oauth2

	// ExpiresAt is runtime state updated by a refresh; zero means unknown
	// expiry (no proactive refresh; a refresh happens only when AccessToken
	// is empty or a request gets a 401).
	ExpiresAt time.Time
}

// rawCredential mirrors the on-disk JSON shape before interpolation.
type rawCredential struct {
	Type         string `json:"type"`
	Token        string `json:"token"`
	APIKey       string `json:"apiKey"`
	HeaderName   string `json:"headerName"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	TokenURL     string `json:"tokenUrl"`
}

// LoadFile reads a credentials JSON file, interpolating $VAR / ${VAR} /
// ${VAR:-default} references against the process environment in every
// string field, then layering REQON_{SOURCE}_{FIELD} environment overrides
// on top.
func LoadFile(path string) (map[string]*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &rerrors.ConfigError{Reason: fmt.Sprintf("reading credentials file %q", path), Cause: err}
	}

	var raw map[string]rawCredential
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &rerrors.ConfigError{Reason: fmt.Sprintf("parsing credentials file %q", path), Cause: err}
	}

	out := make(map[string]*Credential, len(raw))
	for source, r := range raw {
		c := &Credential{
			Type:         astmodel.AuthKind(r.Type),
			Token:        interpolate(r.Token),
			APIKey:       interpolate(r.APIKey),
			HeaderName:   interpolate(r.HeaderName),
			Username:     interpolate(r.Username),
			Password:     interpolate(r.Password),
			AccessToken:  interpolate(r.AccessToken),
			RefreshToken: interpolate(r.RefreshToken),
			ClientID:     interpolate(r.ClientID),
			ClientSecret: interpolate(r.ClientSecret),
			TokenURL:     interpolate(r.TokenURL),
		}
		applyEnvOverrides(source, c)
		if c.HeaderName == "" {
			c.HeaderName = "X-API-Key"
		}
		out[source] = c
	}
	return out, nil
}

func applyEnvOverrides(source string, c *Credential) {
	prefix := "REQON_" + strings.ToUpper(source) + "_"
	fields := map[string]*string{
		"TOKEN":         &c.Token,
		"API_KEY":       &c.APIKey,
		"HEADER_NAME":   &c.HeaderName,
		"USERNAME":      &c.Username,
		"PASSWORD":      &c.Password,
		"ACCESS_TOKEN":  &c.AccessToken,
		"REFRESH_TOKEN": &c.RefreshToken,
		"CLIENT_ID":     &c.ClientID,
		"CLIENT_SECRET": &c.ClientSecret,
		"TOKEN_URL":     &c.TokenURL,
	}
	for field, dst := range fields {
		if v, ok := os.LookupEnv(prefix + field); ok {
			*dst = v
		}
	}
}

var interpVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// interpolate expands $VAR, ${VAR} and ${VAR:-default} references in s
// against the process environment.
func interpolate(s string) string {
	if s == "" || !strings.Contains(s, "$") {
		return s
	}
	return interpVar.ReplaceAllStringFunc(s, func(m string) string {
		groups := interpVar.FindStringSubmatch(m)
		name := groups[1]
		def := groups[3]
		bare := groups[4]
		if bare != "" {
			name = bare
		}
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		return def
	})
}

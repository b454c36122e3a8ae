package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolateBareVar(t *testing.T) {
	t.Setenv("REQON_TEST_TOKEN", "abc123")
	assert.Equal(t, "abc123", interpolate("$REQON_TEST_TOKEN"))
}

func TestInterpolateBracedVar(t *testing.T) {
	t.Setenv("REQON_TEST_TOKEN", "abc123")
	assert.Equal(t, "abc123", interpolate("${REQON_TEST_TOKEN}"))
}

func TestInterpolateDefaultWhenUnset(t *testing.T) {
	os.Unsetenv("REQON_MISSING_VAR")
	assert.Equal(t, "fallback", interpolate("${REQON_MISSING_VAR:-fallback}"))
}

func TestInterpolateDefaultWhenEmpty(t *testing.T) {
	t.Setenv("REQON_EMPTY_VAR", "")
	assert.Equal(t, "fallback", interpolate("${REQON_EMPTY_VAR:-fallback}"))
}

func TestInterpolateNoDollarSignIsUnchanged(t *testing.T) {
	assert.Equal(t, "plain-value", interpolate("plain-value"))
}

func TestLoadFileInterpolatesAndAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"github": {"type": "bearer", "token": "${GH_TOKEN:-unset}"}
	}`), 0o644))

	t.Setenv("GH_TOKEN", "from-env")
	creds, err := LoadFile(path)
	require.NoError(t, err)
	require.Contains(t, creds, "github")
	assert.Equal(t, "from-env", creds["github"].Token)

	t.Setenv("REQON_GITHUB_TOKEN", "override")
	creds, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "override", creds["github"].Token)
}

func TestLoadFileAPIKeyDefaultsHeaderName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"stripe": {"type": "api_key", "apiKey": "sk_test"}
	}`), 0o644))

	creds, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "X-API-Key", creds["stripe"].HeaderName)
}

func TestLoadFileMissingFileReturnsConfigError(t *testing.T) {
	_, err := LoadFile("/nonexistent/creds.json")
	require.Error(t, err)
}

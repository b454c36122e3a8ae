// Package config loads reqon's runtime configuration: data directory,
// dev-mode store fallback, default timeouts, and the Prometheus bind
// address. Mission content itself is never configured here — only the
// runtime settings a mission run needs beyond the program (see
// pkg/executor.Config, which this package's ToExecutorConfig builds).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcclowes/reqon/pkg/executor"
	"github.com/mcclowes/reqon/pkg/log"
)

// Config is the on-disk runtime configuration shape.
type Config struct {
	DataDir         string `yaml:"dataDir"`
	CredentialsPath string `yaml:"credentialsPath"`
	DevMode         bool   `yaml:"devMode"`
	PostgRESTBase   string `yaml:"postgrestBase"`

	MetricsAddr string `yaml:"metricsAddr"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`

	HTTPTimeout  time.Duration `yaml:"httpTimeout"`
	MaxJumpDepth int           `yaml:"maxJumpDepth"`
}

// defaults mirrors the zero-value fallbacks pkg/executor and pkg/httpclient
// already apply on their own, kept here too so `reqon validate` can surface
// the effective values before a run starts.
func defaults() Config {
	return Config{
		DevMode:      true,
		MetricsAddr:  ":9090",
		LogLevel:     "info",
		HTTPTimeout:  60 * time.Second,
		MaxJumpDepth: 25,
	}
}

// Load reads a YAML config file at path, layering it over defaults. A
// missing path is not an error: Load returns defaults unchanged, since every
// field also has a sane fallback at the point it's consumed.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.WithComponent("config").Warn().Str("path", path).Msg("config file not found, using defaults")
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return &cfg, nil
}

// LogConfig translates the loaded level/format into pkg/log's Config.
func (c *Config) LogConfig() log.Config {
	return log.Config{Level: log.Level(c.LogLevel), JSONOutput: c.LogJSON}
}

// ToExecutorConfig builds the executor setup config this runtime config
// describes. Callers still set the per-run fields (CredentialsPath override,
// Resume, Broker) that don't come from the config file.
func (c *Config) ToExecutorConfig() executor.Config {
	return executor.Config{
		DataDir:         c.DataDir,
		CredentialsPath: c.CredentialsPath,
		DevMode:         c.DevMode,
		PostgRESTBase:   c.PostgRESTBase,
		MaxJumpDepth:    c.MaxJumpDepth,
	}
}

// Package config loads the client configuration and exposes it through a
// mutable Runtime holder so environment switches take effect on the next
// request attempt without rebuilding the pipeline.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full client configuration, loaded from YAML.
type Config struct {
	API      API      `yaml:"api"`
	Client   Client   `yaml:"client"`
	Realtime Realtime `yaml:"realtime"`
}

// API groups endpoint and timeout settings.
type API struct {
	// Endpoint is the GraphQL endpoint business operations are sent to.
	Endpoint string `yaml:"endpoint"`
	// RefreshEndpoint is the auth endpoint the refresh grant is posted to.
	RefreshEndpoint string `yaml:"refresh_endpoint"`
	// SocketEndpoint is the realtime transport URL (ws:// or wss://).
	SocketEndpoint string `yaml:"socket_endpoint"`
	// RequestTimeout bounds a single business request attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RefreshTimeout bounds the refresh call, independently of requests.
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// Client carries the static identity attached to every outgoing request.
type Client struct {
	Platform   string `yaml:"platform"`
	ClientType string `yaml:"client_type"`
	AppVersion string `yaml:"app_version"`
	Locale     string `yaml:"locale"`
}

// Realtime tunes the reconnect policy of the socket transport.
type Realtime struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBackoff     time.Duration `yaml:"reconnect_backoff"`
}

// Default returns the configuration defaults applied before YAML overrides.
func Default() Config {
	return Config{
		API: API{
			RequestTimeout: 30 * time.Second,
			RefreshTimeout: 15 * time.Second,
		},
		Client: Client{
			Platform:   "go",
			ClientType: "sdk",
			Locale:     "en",
		},
		Realtime: Realtime{
			MaxReconnectAttempts: 3,
			ReconnectBackoff:     time.Second,
		},
	}
}

// Load reads and validates a YAML config file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields the pipeline cannot run without.
func (c Config) Validate() error {
	if c.API.Endpoint == "" {
		return fmt.Errorf("config: api.endpoint is required")
	}
	if c.API.RefreshEndpoint == "" {
		return fmt.Errorf("config: api.refresh_endpoint is required")
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("config: api.request_timeout must be positive")
	}
	if c.API.RefreshTimeout <= 0 {
		return fmt.Errorf("config: api.refresh_timeout must be positive")
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return fmt.Errorf("config: realtime.max_reconnect_attempts must be at least 1")
	}
	return nil
}

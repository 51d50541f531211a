// Copyright 2026 The CallVault Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use the "45s" /
// "10m" form.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or an integer
// nanosecond count.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err == nil {
		parsed, parseErr := time.ParseDuration(raw)
		if parseErr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, parseErr)
		}
		*d = Duration(parsed)
		return nil
	}
	var nanos int64
	if err := node.Decode(&nanos); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(nanos)
	return nil
}

// MarshalYAML renders the duration in the "45s" form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for a CallVault server.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Listen configures the network endpoints.
	Listen ListenConfig `yaml:"listen"`

	// Storage configures persistence. An empty database path puts the
	// server in demo mode: no envelope replay protection beyond
	// process memory, permissive call policy, nothing persisted.
	Storage StorageConfig `yaml:"storage"`

	// Calls configures call lifecycle timers.
	Calls CallsConfig `yaml:"calls"`

	// Delivery configures message handling.
	Delivery DeliveryConfig `yaml:"delivery"`

	// WebRTC configures ICE servers and session tokens.
	WebRTC WebRTCConfig `yaml:"webrtc"`

	// Notify configures the push notification publisher. An empty URL
	// keeps notifications in process memory.
	Notify NotifyConfig `yaml:"notify"`

	// EnvironmentOverrides contains per-environment overrides,
	// applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment.
type ConfigOverrides struct {
	Listen   *ListenConfig   `yaml:"listen,omitempty"`
	Storage  *StorageConfig  `yaml:"storage,omitempty"`
	Calls    *CallsConfig    `yaml:"calls,omitempty"`
	Delivery *DeliveryConfig `yaml:"delivery,omitempty"`
	WebRTC   *WebRTCConfig   `yaml:"webrtc,omitempty"`
	Notify   *NotifyConfig   `yaml:"notify,omitempty"`
}

// ListenConfig configures network endpoints.
type ListenConfig struct {
	// Signal is the TCP address for the CBOR signaling protocol.
	// Default: :7340
	Signal string `yaml:"signal"`

	// HTTP is the address for the HTTP surface (health, diagnostics,
	// session tokens). Default: :7341
	HTTP string `yaml:"http"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	// Database is the SQLite database path. Empty enables demo mode.
	Database string `yaml:"database"`

	// State is the directory for the session signing keypair.
	State string `yaml:"state"`

	// PoolSize is the SQLite connection pool size. Default: 8.
	PoolSize int `yaml:"pool_size"`
}

// CallsConfig configures call lifecycle timers.
type CallsConfig struct {
	// RingTimeout is how long a call rings before it is marked
	// missed. Default: 45s.
	RingTimeout Duration `yaml:"ring_timeout"`

	// RequestTTL is how long a call request awaits approval before
	// expiring. Default: 10m.
	RequestTTL Duration `yaml:"request_ttl"`

	// DisconnectGrace is how long a dropped participant may
	// reconnect before the call ends. Default: 15s.
	DisconnectGrace Duration `yaml:"disconnect_grace"`

	// CountIgnoredRequests counts expired call requests toward the
	// auto-block rejection threshold, not just explicit declines.
	CountIgnoredRequests bool `yaml:"count_ignored_requests"`
}

// DeliveryConfig configures message handling.
type DeliveryConfig struct {
	// MaxContentBytes caps a single message body. Default: 65536.
	MaxContentBytes int `yaml:"max_content_bytes"`
}

// WebRTCConfig configures ICE servers and session tokens.
type WebRTCConfig struct {
	// STUNURLs are the STUN servers offered to every session.
	STUNURLs []string `yaml:"stun_urls"`

	// TURNURLs are the TURN relay servers offered to sessions whose
	// plan allows relay.
	TURNURLs []string `yaml:"turn_urls"`

	// TURNSecret is the shared secret for ephemeral relay
	// credentials (coturn static-auth-secret). Empty disables TURN.
	TURNSecret string `yaml:"turn_secret"`

	// TURNCredentialTTL bounds relay credential lifetime.
	// Default: 1h.
	TURNCredentialTTL Duration `yaml:"turn_credential_ttl"`

	// SessionTokenTTL bounds call session token lifetime.
	// Default: 5m.
	SessionTokenTTL Duration `yaml:"session_token_ttl"`
}

// NotifyConfig configures the push notification publisher.
type NotifyConfig struct {
	// AMQPURL is the broker connection string. Empty keeps
	// notifications in memory.
	AMQPURL string `yaml:"amqp_url"`

	// Exchange is the topic exchange notifications are published to.
	// Default: callvault.notifications
	Exchange string `yaml:"exchange"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; the config file is still
// required for Load.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultState := filepath.Join(homeDir, ".cache", "callvault")

	return &Config{
		Environment: Development,
		Listen: ListenConfig{
			Signal: ":7340",
			HTTP:   ":7341",
		},
		Storage: StorageConfig{
			State:    defaultState,
			PoolSize: 8,
		},
		Calls: CallsConfig{
			RingTimeout:     Duration(45 * time.Second),
			RequestTTL:      Duration(10 * time.Minute),
			DisconnectGrace: Duration(15 * time.Second),
		},
		Delivery: DeliveryConfig{
			MaxContentBytes: 64 * 1024,
		},
		WebRTC: WebRTCConfig{
			STUNURLs:          []string{"stun:stun.l.google.com:19302"},
			TURNCredentialTTL: Duration(time.Hour),
			SessionTokenTTL:   Duration(5 * time.Minute),
		},
		Notify: NotifyConfig{
			Exchange: "callvault.notifications",
		},
	}
}

// Load loads configuration from the CALLVAULT_CONFIG environment
// variable. There are no fallbacks: if CALLVAULT_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("CALLVAULT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CALLVAULT_CONFIG environment variable not set; " +
			"set it to the path of your callvault.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values. The only expansion performed is ${VAR}
// path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific
// overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Listen != nil {
		if overrides.Listen.Signal != "" {
			c.Listen.Signal = overrides.Listen.Signal
		}
		if overrides.Listen.HTTP != "" {
			c.Listen.HTTP = overrides.Listen.HTTP
		}
	}

	if overrides.Storage != nil {
		if overrides.Storage.Database != "" {
			c.Storage.Database = overrides.Storage.Database
		}
		if overrides.Storage.State != "" {
			c.Storage.State = overrides.Storage.State
		}
		if overrides.Storage.PoolSize != 0 {
			c.Storage.PoolSize = overrides.Storage.PoolSize
		}
	}

	if overrides.Calls != nil {
		if overrides.Calls.RingTimeout != 0 {
			c.Calls.RingTimeout = overrides.Calls.RingTimeout
		}
		if overrides.Calls.RequestTTL != 0 {
			c.Calls.RequestTTL = overrides.Calls.RequestTTL
		}
		if overrides.Calls.DisconnectGrace != 0 {
			c.Calls.DisconnectGrace = overrides.Calls.DisconnectGrace
		}
		// A bool, so always applied from overrides.
		c.Calls.CountIgnoredRequests = overrides.Calls.CountIgnoredRequests
	}

	if overrides.Delivery != nil {
		if overrides.Delivery.MaxContentBytes != 0 {
			c.Delivery.MaxContentBytes = overrides.Delivery.MaxContentBytes
		}
	}

	if overrides.WebRTC != nil {
		if len(overrides.WebRTC.STUNURLs) > 0 {
			c.WebRTC.STUNURLs = overrides.WebRTC.STUNURLs
		}
		if len(overrides.WebRTC.TURNURLs) > 0 {
			c.WebRTC.TURNURLs = overrides.WebRTC.TURNURLs
		}
		if overrides.WebRTC.TURNSecret != "" {
			c.WebRTC.TURNSecret = overrides.WebRTC.TURNSecret
		}
		if overrides.WebRTC.TURNCredentialTTL != 0 {
			c.WebRTC.TURNCredentialTTL = overrides.WebRTC.TURNCredentialTTL
		}
		if overrides.WebRTC.SessionTokenTTL != 0 {
			c.WebRTC.SessionTokenTTL = overrides.WebRTC.SessionTokenTTL
		}
	}

	if overrides.Notify != nil {
		if overrides.Notify.AMQPURL != "" {
			c.Notify.AMQPURL = overrides.Notify.AMQPURL
		}
		if overrides.Notify.Exchange != "" {
			c.Notify.Exchange = overrides.Notify.Exchange
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Storage.Database = expandVars(c.Storage.Database, vars)
	c.Storage.State = expandVars(c.Storage.State, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// DemoMode reports whether the server runs without persistence.
func (c *Config) DemoMode() bool {
	return c.Storage.Database == ""
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Listen.Signal == "" {
		errs = append(errs, fmt.Errorf("listen.signal is required"))
	}
	if c.Listen.HTTP == "" {
		errs = append(errs, fmt.Errorf("listen.http is required"))
	}

	if c.Environment == Production && c.DemoMode() {
		errs = append(errs, fmt.Errorf("storage.database is required in production"))
	}
	if c.Storage.State == "" {
		errs = append(errs, fmt.Errorf("storage.state is required"))
	}
	if c.Storage.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("storage.pool_size must be at least 1"))
	}

	if c.Calls.RingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("calls.ring_timeout must be positive"))
	}
	if c.Calls.RequestTTL <= 0 {
		errs = append(errs, fmt.Errorf("calls.request_ttl must be positive"))
	}
	if c.Calls.DisconnectGrace <= 0 {
		errs = append(errs, fmt.Errorf("calls.disconnect_grace must be positive"))
	}

	if c.Delivery.MaxContentBytes < 1 {
		errs = append(errs, fmt.Errorf("delivery.max_content_bytes must be positive"))
	}

	if len(c.WebRTC.TURNURLs) > 0 && c.WebRTC.TURNSecret == "" {
		errs = append(errs, fmt.Errorf("webrtc.turn_secret is required when turn_urls are configured"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the state directory if it doesn't exist.
func (c *Config) EnsurePaths() error {
	if c.Storage.State == "" {
		return nil
	}
	if err := os.MkdirAll(c.Storage.State, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Storage.State, err)
	}
	if c.Storage.Database != "" {
		if err := os.MkdirAll(filepath.Dir(c.Storage.Database), 0755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(c.Storage.Database), err)
		}
	}
	return nil
}

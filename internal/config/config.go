// Package config provides configuration types for Keywarden.
//
// Keywarden is configured from a YAML file plus KEYWARDEN_* environment
// overrides. The schema is intentionally small: one listener, one policy
// store, optional bearer-secret auth, an optional organization membership
// fixture, and opt-in telemetry.
package config

import (
	"os"
	"path/filepath"
)

// Config is the top-level configuration for the keywarden server.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Store configures where per-account policy sets are persisted.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Auth configures bearer-secret authentication for the API routes.
	// Optional: when empty, the API is open (intended for localhost use).
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Orgs configures the organization membership source.
	Orgs OrgsConfig `yaml:"orgs" mapstructure:"orgs"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development conveniences (memory store fallback,
	// debug logging).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// TLS is out of scope; put a reverse proxy in front for network exposure.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// StoreConfig selects and configures the policy store backend.
type StoreConfig struct {
	// Driver selects the backend.
	// "file" is the sealed single-file vault, "sqlite" a local database,
	// "memory" a non-persistent store for development.
	Driver string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=file sqlite memory"`

	// Path is the vault file or database path. Required for the file and
	// sqlite drivers; ignored by the memory driver.
	Path string `yaml:"path" mapstructure:"path"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	// APISecretHash is the SHA-256 hash of the API bearer secret,
	// prefixed with "sha256:". Generate with: keywarden hash-secret
	APISecretHash string `yaml:"api_secret_hash" mapstructure:"api_secret_hash" validate:"omitempty,secret_hash"`
}

// OrgsConfig configures the organization membership provider.
type OrgsConfig struct {
	// MembershipsFile is a YAML fixture mapping user ids to their
	// organization memberships. Optional: when empty, no user belongs to
	// any organization and no policy ever applies.
	MembershipsFile string `yaml:"memberships_file" mapstructure:"memberships_file"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns stdout trace and metric export on.
	// Default: false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network access needs an explicit http_addr.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "file"
	}
	if c.Store.Path == "" && c.Store.Driver != "memory" {
		if home, err := os.UserHomeDir(); err == nil {
			switch c.Store.Driver {
			case "sqlite":
				c.Store.Path = filepath.Join(home, ".keywarden", "policies.db")
			default:
				c.Store.Path = filepath.Join(home, ".keywarden", "vault.json")
			}
		}
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// These are applied AFTER SetDefaults and before validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"
}

// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server"`
	Store      StoreConfig             `yaml:"store"`
	Spotify    SpotifyConfig           `yaml:"spotify"`
	Admin      AdminConfig             `yaml:"admin"`
	Credential CredentialConfig        `yaml:"credential"`
	Reconcile  ReconcileConfig         `yaml:"reconcile"`
	Scheduler  SchedulerConfig         `yaml:"scheduler"`
	Filters    map[string]FilterConfig `yaml:"filters"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// StoreConfig represents the SQLite store configuration.
type StoreConfig struct {
	Path string `yaml:"path" default:"auxbox.db"`
}

// SpotifyConfig represents Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret" validate:"required"`
	RedirectURL  string `yaml:"redirect_url" default:"http://127.0.0.1:8080/callback"`
}

// AdminConfig represents operator authentication.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// CredentialConfig represents access token lifecycle settings.
type CredentialConfig struct {
	RefreshMarginSec int `yaml:"refresh_margin_sec" default:"300" validate:"gte=30"`
}

// ReconcileConfig represents the playback reconciliation loop settings.
type ReconcileConfig struct {
	IntervalMs int `yaml:"interval_ms" default:"4000" validate:"gte=500,lte=60000"`
}

// SchedulerConfig represents fair queue scheduler settings.
type SchedulerConfig struct {
	PlaylistRefill bool `yaml:"playlist_refill" default:"true"`
}

// FilterConfig represents an admission filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// ReconcileInterval returns the reconciliation tick period.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconcile.IntervalMs) * time.Millisecond
}

// RefreshMargin returns the credential refresh safety margin.
func (c *Config) RefreshMargin() time.Duration {
	return time.Duration(c.Credential.RefreshMarginSec) * time.Second
}

// IsFilterEnabled checks if an admission filter is enabled. Filters are on
// unless explicitly disabled, matching how the filter chain is assembled.
func (c *Config) IsFilterEnabled(name string) bool {
	if f, ok := c.Filters[name]; ok {
		return f.Enabled
	}
	return true
}

// FilterSettings returns the settings map for a filter, or nil.
func (c *Config) FilterSettings(name string) map[string]any {
	if f, ok := c.Filters[name]; ok {
		return f.Settings
	}
	return nil
}

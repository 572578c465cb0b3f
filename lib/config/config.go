// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for runboard.
type Config struct {
	// API configures the chat-platform REST client.
	API APIConfig `yaml:"api"`

	// Storage configures the SQLite store.
	Storage StorageConfig `yaml:"storage"`

	// Runs configures run and headcount timing.
	Runs RunsConfig `yaml:"runs"`

	// Scheduler configures the deadline poll loop.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Listen configures the interaction HTTP endpoint.
	Listen ListenConfig `yaml:"listen"`

	// Guild configures guild-level authorization.
	Guild GuildConfig `yaml:"guild"`
}

// GuildConfig configures guild-level authorization.
type GuildConfig struct {
	// OrganizerRoleID is the role required for organizer actions on
	// runs owned by someone else. Empty allows any member.
	OrganizerRoleID string `yaml:"organizer_role_id"`
}

// APIConfig configures the chat-platform REST client.
type APIConfig struct {
	// BaseURL is the platform API base (e.g., "https://discord.com/api/v10").
	BaseURL string `yaml:"base_url"`

	// TokenFile is the path to a file containing the bot token.
	// The token is never stored in the config file itself.
	TokenFile string `yaml:"token_file"`

	// ApplicationID is the bot's application ID, used for
	// interaction-token edit paths.
	ApplicationID string `yaml:"application_id"`

	// PublicKey is the hex-encoded Ed25519 key used to verify
	// interaction request signatures.
	PublicKey string `yaml:"public_key"`

	// RequestsPerSecond caps outgoing API requests. Zero disables
	// client-side limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// StorageConfig configures the SQLite store.
type StorageConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// PoolSize is the connection pool size. Zero uses the pool default.
	PoolSize int `yaml:"pool_size"`

	// AuditPath is the append-only audit log file. Empty disables
	// auditing.
	AuditPath string `yaml:"audit_path"`
}

// RunsConfig configures run and headcount timing. Durations are
// strings in time.ParseDuration syntax.
type RunsConfig struct {
	// AutoEndDefault is the deadline applied when a run goes live.
	// Default: 2h.
	AutoEndDefault string `yaml:"auto_end_default"`

	// AutoEndMax bounds the auto-end deadline. Default: 6h.
	AutoEndMax string `yaml:"auto_end_max"`

	// KeyWindowDefault is the key-pop window opened when a run
	// starts. Default: 10m.
	KeyWindowDefault string `yaml:"key_window_default"`

	// KeyWindowMax bounds the key-pop window. Default: 30m.
	KeyWindowMax string `yaml:"key_window_max"`

	// HeadcountLifetime is how long an open headcount stays open
	// before the scheduler closes it. Default: 6h.
	HeadcountLifetime string `yaml:"headcount_lifetime"`
}

// SchedulerConfig configures the deadline poll loop.
type SchedulerConfig struct {
	// PollInterval is how often deadlines are checked. Default: 30s.
	PollInterval string `yaml:"poll_interval"`
}

// ListenConfig configures the interaction HTTP endpoint.
type ListenConfig struct {
	// Addr is the listen address (e.g., ":8443").
	Addr string `yaml:"addr"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file. They exist primarily to
// ensure all fields have sensible zero-values, not as a
// fallback. The config file is required.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "https://discord.com/api/v10",
			RequestsPerSecond: 40,
		},
		Storage: StorageConfig{
			Path: "runboard.db",
		},
		Runs: RunsConfig{
			AutoEndDefault:    "2h",
			AutoEndMax:        "6h",
			KeyWindowDefault:  "10m",
			KeyWindowMax:      "30m",
			HeadcountLifetime: "6h",
		},
		Scheduler: SchedulerConfig{
			PollInterval: "30s",
		},
		Listen: ListenConfig{
			Addr: ":8443",
		},
	}
}

// Load loads configuration from the RUNBOARD_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults: if RUNBOARD_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("RUNBOARD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("RUNBOARD_CONFIG environment variable not set; " +
			"set it to the path of your runboard.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks required fields and duration syntax.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	durations := map[string]string{
		"runs.auto_end_default":   c.Runs.AutoEndDefault,
		"runs.auto_end_max":       c.Runs.AutoEndMax,
		"runs.key_window_default": c.Runs.KeyWindowDefault,
		"runs.key_window_max":     c.Runs.KeyWindowMax,
		"runs.headcount_lifetime": c.Runs.HeadcountLifetime,
		"scheduler.poll_interval": c.Scheduler.PollInterval,
	}
	for field, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
		}
	}
	return nil
}

// Duration parses a duration field that has already passed Validate.
// Panics on parse failure; call Validate first.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", value, err))
	}
	return d
}

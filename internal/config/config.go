// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults; Load layers file and env.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"fmt"
	"time"

	"github.com/okian/vigil/internal/domain/tier"
)

// TierConfig is one row of the rank-to-role threshold table.
// MaxRank 0 marks the catch-all tier.
type TierConfig struct {
	Role    string `koanf:"role"`
	MaxRank int    `koanf:"max_rank"`
}

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// EventQueueSize bounds the in-memory presence event queue.
	EventQueueSize int `koanf:"queue_size"`

	// DedupeSize sets the size of the event ID deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Store selects the totals backend: "memory" or "redis".
	Store string `koanf:"store"`

	// RedisAddr, RedisDB and RedisPassword configure the redis backend.
	RedisAddr     string `koanf:"redis_addr"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPassword string `koanf:"redis_password"`

	// StoreTimeout bounds individual store operations.
	StoreTimeout time.Duration `koanf:"store_timeout"`

	// FlushInterval is how often open sessions are checkpointed.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// MinSession discards sessions shorter than this on close.
	MinSession time.Duration `koanf:"min_session"`

	// RequireBroadcast demands the user also be broadcasting, not merely
	// present in a channel, for time to accrue.
	RequireBroadcast bool `koanf:"require_broadcast"`

	// ReconcileInterval is how often role reconciliation runs.
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`

	// MutationDelay is the pause after each role mutation.
	MutationDelay time.Duration `koanf:"mutation_delay"`

	// GroupDelay is the pause between groups within one reconcile pass.
	GroupDelay time.Duration `koanf:"group_delay"`

	// MaxRanked caps how many top users a reconcile pass considers.
	MaxRanked int `koanf:"max_ranked"`

	// Groups lists the group IDs to reconcile. Empty disables the engine.
	Groups []string `koanf:"groups"`

	// Tiers is the ordered rank-to-role table, catch-all last.
	Tiers []TierConfig `koanf:"tiers"`

	// DirectoryBaseURL and DirectoryToken configure the directory client.
	DirectoryBaseURL string `koanf:"directory_base_url"`
	DirectoryToken   string `koanf:"directory_token"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		EventQueueSize:      10_000,
		DedupeSize:          50_000,
		Store:               "memory",
		RedisAddr:           "localhost:6379",
		StoreTimeout:        5 * time.Second,
		FlushInterval:       30 * time.Second,
		MinSession:          5 * time.Second,
		ReconcileInterval:   10 * time.Minute,
		MutationDelay:       750 * time.Millisecond,
		GroupDelay:          2 * time.Second,
		MaxRanked:           50,
		MaxLeaderboardLimit: 100,
	}
}

// TierTable builds and validates the configured tier table.
func (c *Config) TierTable() (*tier.Table, error) {
	tiers := make([]tier.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tiers = append(tiers, tier.Tier{Role: t.Role, MaxRank: t.MaxRank})
	}
	tbl, err := tier.NewTable(tiers)
	if err != nil {
		return nil, fmt.Errorf("%w: tiers: %w", ErrInvalidConfig, err)
	}
	return tbl, nil
}

// ReconcileEnabled reports whether role reconciliation is configured.
func (c *Config) ReconcileEnabled() bool {
	return len(c.Groups) > 0
}

// Validate checks cross-field constraints after loading.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	switch c.Store {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis_addr required for redis store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush_interval must be positive", ErrInvalidConfig)
	}
	if c.MinSession < 0 {
		return fmt.Errorf("%w: min_session must not be negative", ErrInvalidConfig)
	}
	if c.ReconcileEnabled() {
		if c.DirectoryBaseURL == "" {
			return fmt.Errorf("%w: directory_base_url required when groups are configured", ErrInvalidConfig)
		}
		if _, err := c.TierTable(); err != nil {
			return err
		}
		if c.ReconcileInterval <= 0 {
			return fmt.Errorf("%w: reconcile_interval must be positive", ErrInvalidConfig)
		}
		if c.MaxRanked <= 0 {
			return fmt.Errorf("%w: max_ranked must be positive", ErrInvalidConfig)
		}
	}
	return nil
}

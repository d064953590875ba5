// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package config defines Recserve's layered configuration: built-in
// defaults, an optional YAML file, and environment variable overrides,
// loaded via Koanf v2.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for all Recserve components.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Feedback  FeedbackConfig  `koanf:"feedback"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Cache     CacheConfig     `koanf:"cache"`
	Recommend RecommendConfig `koanf:"recommend"`
	Trending  TrendingConfig  `koanf:"trending"`
	API       APIConfig       `koanf:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// FeedbackConfig holds feedback store settings.
type FeedbackConfig struct {
	// Path is the BadgerDB directory for the feedback log.
	Path string `koanf:"path"`

	// SyncWrites forces fsync on every append. Disable only in tests.
	SyncWrites bool `koanf:"sync_writes"`

	// SeenWindow is the number of recent events consulted when building
	// a user's seen-set.
	SeenWindow int `koanf:"seen_window"`

	// LockShards is the number of per-user striped write locks.
	LockShards int `koanf:"lock_shards"`
}

// CatalogConfig holds catalog registry settings.
type CatalogConfig struct {
	// Path is the BadgerDB directory for users and items.
	Path string `koanf:"path"`

	// SourceURL is an external catalog endpoint returning the item
	// inventory as a JSON array. Empty disables catalog sync.
	SourceURL string `koanf:"source_url"`

	// SyncInterval is how often the catalog source is polled for
	// availability updates. Zero disables polling.
	SyncInterval time.Duration `koanf:"sync_interval"`
}

// CacheConfig holds feature cache settings.
type CacheConfig struct {
	// TTL is the freshness window for cached candidate lists.
	TTL time.Duration `koanf:"ttl"`

	// MaxEntries bounds the cache before LRU eviction kicks in.
	MaxEntries int `koanf:"max_entries"`

	// Shards is the number of independently locked cache shards.
	Shards int `koanf:"shards"`

	// RefreshPerSecond bounds background refresh throughput.
	RefreshPerSecond float64 `koanf:"refresh_per_second"`

	// RefreshBurst is the refresh limiter burst size.
	RefreshBurst int `koanf:"refresh_burst"`
}

// RecommendConfig holds candidate aggregation settings.
type RecommendConfig struct {
	// DefaultK is the result size when the request does not specify k.
	DefaultK int `koanf:"default_k"`

	// MaxK caps the requestable result size.
	MaxK int `koanf:"max_k"`

	// MaxCandidates bounds the merged candidate pool before top-K.
	MaxCandidates int `koanf:"max_candidates"`

	// Ratio blends personalized vs popular results (0=all popular,
	// 1=all personalized). Requests may override per call.
	Ratio float64 `koanf:"ratio"`

	// ModelURL is the Recommendation Model collaborator endpoint.
	// Empty disables the model source (trending-only serving).
	ModelURL string `koanf:"model_url"`

	// ModelTimeout bounds each model call. On expiry the request
	// proceeds with trending candidates only.
	ModelTimeout time.Duration `koanf:"model_timeout"`
}

// TrendingConfig holds trending snapshot settings.
type TrendingConfig struct {
	// Interval is how often the snapshot is recomputed.
	Interval time.Duration `koanf:"interval"`

	// HalfLife controls exponential score decay: an event loses half
	// its weight every HalfLife.
	HalfLife time.Duration `koanf:"half_life"`

	// Window is how far back feedback contributes to trending.
	Window time.Duration `koanf:"window"`

	// Size is the maximum items per snapshot ranking.
	Size int `koanf:"size"`
}

// APIConfig holds API surface settings.
type APIConfig struct {
	DefaultPageSize   int           `koanf:"default_page_size"`
	MinPageSize       int           `koanf:"min_page_size"`
	MaxPageSize       int           `koanf:"max_page_size"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// Validate checks cross-field constraints. It is called after all
// configuration layers are merged.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Feedback.Path == "" {
		return fmt.Errorf("feedback.path must not be empty")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path must not be empty")
	}
	if c.Feedback.Path == c.Catalog.Path {
		return fmt.Errorf("feedback.path and catalog.path must differ (separate badger instances)")
	}
	if c.Feedback.LockShards <= 0 {
		return fmt.Errorf("feedback.lock_shards must be positive, got %d", c.Feedback.LockShards)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.Shards <= 0 || c.Cache.Shards&(c.Cache.Shards-1) != 0 {
		return fmt.Errorf("cache.shards must be a positive power of two, got %d", c.Cache.Shards)
	}
	if c.Recommend.DefaultK <= 0 || c.Recommend.DefaultK > c.Recommend.MaxK {
		return fmt.Errorf("recommend.default_k must be in (0, max_k=%d], got %d", c.Recommend.MaxK, c.Recommend.DefaultK)
	}
	if c.Recommend.Ratio < 0 || c.Recommend.Ratio > 1 {
		return fmt.Errorf("recommend.ratio must be in [0,1], got %f", c.Recommend.Ratio)
	}
	if c.Recommend.ModelTimeout <= 0 {
		return fmt.Errorf("recommend.model_timeout must be positive, got %s", c.Recommend.ModelTimeout)
	}
	if c.Trending.Interval <= 0 || c.Trending.HalfLife <= 0 || c.Trending.Window <= 0 {
		return fmt.Errorf("trending.interval, half_life and window must all be positive")
	}
	if c.API.MinPageSize <= 0 || c.API.MinPageSize > c.API.MaxPageSize {
		return fmt.Errorf("api.min_page_size must be in (0, max_page_size=%d], got %d", c.API.MaxPageSize, c.API.MinPageSize)
	}
	if c.API.DefaultPageSize < c.API.MinPageSize || c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("api.default_page_size %d outside [%d,%d]", c.API.DefaultPageSize, c.API.MinPageSize, c.API.MaxPageSize)
	}
	return nil
}

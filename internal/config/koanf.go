// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/jcastaner/recserve/internal/logging"
)

const envPrefix = "RECSERVE_"

// Default returns the built-in configuration. Every field here can be
// overridden by the YAML file and then by environment variables.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Feedback: FeedbackConfig{
			Path:       "data/feedback",
			SyncWrites: true,
			SeenWindow: 200,
			LockShards: 128,
		},
		Catalog: CatalogConfig{
			Path:         "data/catalog",
			SyncInterval: 0,
		},
		Cache: CacheConfig{
			TTL:              15 * time.Minute,
			MaxEntries:       10000,
			Shards:           64,
			RefreshPerSecond: 50,
			RefreshBurst:     10,
		},
		Recommend: RecommendConfig{
			DefaultK:      20,
			MaxK:          100,
			MaxCandidates: 500,
			Ratio:         0.7,
			ModelTimeout:  200 * time.Millisecond,
		},
		Trending: TrendingConfig{
			Interval: 5 * time.Minute,
			HalfLife: 24 * time.Hour,
			Window:   7 * 24 * time.Hour,
			Size:     200,
		},
		API: APIConfig{
			DefaultPageSize: 10,
			MinPageSize:     5,
			MaxPageSize:     20,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML
// file at path (or discovered via RECSERVE_CONFIG_PATH / well-known
// locations when path is empty), then RECSERVE_* environment
// variables. The merged result is validated before being returned.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		logging.Debug().Str("path", path).Msg("Loaded configuration file")
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envTransform maps RECSERVE_CACHE_MAX_ENTRIES to cache.max_entries.
// The first underscore separates the section from the key; remaining
// underscores are preserved so multi-word keys round-trip.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}

// findConfigFile checks RECSERVE_CONFIG_PATH, then well-known
// locations. Returns "" when no file exists, which is not an error.
func findConfigFile() string {
	if p := os.Getenv("RECSERVE_CONFIG_PATH"); p != "" {
		return p
	}
	for _, p := range []string{
		"recserve.yaml",
		"config/recserve.yaml",
		"/etc/recserve/recserve.yaml",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

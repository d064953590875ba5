// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Recserve serves personalized recommendations from locally stored
// feedback: a durable feedback log, a generation-tracked feature
// cache, trending fallbacks, and an optional external model, behind a
// single supervised HTTP process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jcastaner/recserve/internal/api"
	"github.com/jcastaner/recserve/internal/catalog"
	"github.com/jcastaner/recserve/internal/config"
	"github.com/jcastaner/recserve/internal/events"
	"github.com/jcastaner/recserve/internal/featurecache"
	"github.com/jcastaner/recserve/internal/feedback"
	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/recommend"
	"github.com/jcastaner/recserve/internal/service"
	"github.com/jcastaner/recserve/internal/supervisor"
	"github.com/jcastaner/recserve/internal/supervisor/services"
)

func main() {
	configPath := flag.String("config", "", "path to recserve.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().
		Str("feedback_path", cfg.Feedback.Path).
		Str("catalog_path", cfg.Catalog.Path).
		Bool("model_enabled", cfg.Recommend.ModelURL != "").
		Msg("Starting Recserve")

	// Durable stores first; everything else builds on them.
	storeCfg := feedback.DefaultConfig(cfg.Feedback.Path)
	storeCfg.SyncWrites = cfg.Feedback.SyncWrites
	storeCfg.SeenWindow = cfg.Feedback.SeenWindow
	storeCfg.LockShards = cfg.Feedback.LockShards
	store, err := feedback.Open(storeCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open feedback store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing feedback store")
		}
	}()

	registry, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open catalog")
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing catalog")
		}
	}()

	bus := events.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	trending := recommend.NewTrending(recommend.TrendingConfig{
		HalfLife: cfg.Trending.HalfLife,
		Window:   cfg.Trending.Window,
		Size:     cfg.Trending.Size,
	}, registry)

	var model recommend.Model
	if cfg.Recommend.ModelURL != "" {
		model = recommend.NewHTTPModel(cfg.Recommend.ModelURL, cfg.Recommend.ModelTimeout)
		logging.Info().Str("model_url", cfg.Recommend.ModelURL).Msg("Recommendation model enabled")
	} else {
		logging.Info().Msg("No model configured, serving trending candidates only")
	}

	agg := recommend.NewAggregator(recommend.AggregatorConfig{
		ModelTimeout:  cfg.Recommend.ModelTimeout,
		MaxCandidates: cfg.Recommend.MaxCandidates,
	}, model, trending, store, registry)

	cache := featurecache.New(cfg.Cache.MaxEntries, cfg.Cache.Shards, cfg.Cache.TTL)

	svc := service.New(service.Config{
		DefaultK:        cfg.Recommend.DefaultK,
		MaxK:            cfg.Recommend.MaxK,
		DefaultRatio:    cfg.Recommend.Ratio,
		DefaultPageSize: cfg.API.DefaultPageSize,
		MinPageSize:     cfg.API.MinPageSize,
		MaxPageSize:     cfg.API.MaxPageSize,
	}, store, registry, cache, agg, trending, bus,
		cfg.Cache.RefreshPerSecond, cfg.Cache.RefreshBurst)
	defer svc.Close()

	router := api.NewRouter(api.NewHandler(svc), api.NewMiddleware(cfg.API)).Setup()
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)

	tree.AddBackgroundService(services.NewTrendingService(store, trending, cfg.Trending.Interval, cfg.Trending.Window))
	tree.AddBackgroundService(services.NewInvalidatorService(events.NewInvalidator(bus, cache, trending)))
	if cfg.Catalog.SourceURL != "" && cfg.Catalog.SyncInterval > 0 {
		source := catalog.NewHTTPSource(cfg.Catalog.SourceURL, cfg.Server.ReadTimeout)
		tree.AddBackgroundService(services.NewCatalogSyncService(registry, source, cfg.Catalog.SyncInterval))
		logging.Info().
			Str("source_url", cfg.Catalog.SourceURL).
			Dur("interval", cfg.Catalog.SyncInterval).
			Msg("Catalog sync enabled")
	}
	tree.AddServingService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	logging.Info().Str("addr", server.Addr).Msg("Recserve listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
		if err := <-errCh; err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("Supervisor exited with error")
		}
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("Supervisor failed")
		}
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, s := range report {
			logging.Warn().Str("service", fmt.Sprintf("%v", s.Service)).Msg("Service did not stop in time")
		}
	}

	logging.Info().Msg("Recserve stopped")
}

// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/jcastaner/recserve/internal/feedback"
	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/models"
	"github.com/jcastaner/recserve/internal/recommend"
)

// TrendingService rebuilds the trending snapshot from the durable
// feedback log on startup, then recomputes it on a fixed interval.
// The startup rebuild means a restart never serves an empty snapshot
// while live events trickle back in.
type TrendingService struct {
	store    *feedback.Store
	trending *recommend.Trending
	interval time.Duration
	window   time.Duration
}

// NewTrendingService creates the recompute loop. window bounds how far
// back the startup rebuild scans, matching the trending score window.
func NewTrendingService(store *feedback.Store, trending *recommend.Trending, interval, window time.Duration) *TrendingService {
	return &TrendingService{
		store:    store,
		trending: trending,
		interval: interval,
		window:   window,
	}
}

// Serve implements suture.Service.
func (s *TrendingService) Serve(ctx context.Context) error {
	if err := s.rebuild(ctx); err != nil {
		return fmt.Errorf("trending rebuild: %w", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := s.trending.Recompute()
			logging.Debug().
				Int("items", len(snap.Global)).
				Msg("Trending snapshot recomputed")
		}
	}
}

// rebuild replays windowed feedback into the trending scores and
// publishes the first snapshot.
func (s *TrendingService) rebuild(ctx context.Context) error {
	since := time.Now().Add(-s.window)
	count := 0
	err := s.store.ForEachSince(ctx, since, func(ev models.FeedbackEvent) error {
		s.trending.Observe(ev)
		count++
		return nil
	})
	if err != nil {
		return err
	}
	snap := s.trending.Recompute()
	logging.Info().
		Int("events", count).
		Int("items", len(snap.Global)).
		Msg("Trending snapshot rebuilt from feedback log")
	return nil
}

// String implements fmt.Stringer for supervisor log messages.
func (s *TrendingService) String() string {
	return "trending-recompute"
}

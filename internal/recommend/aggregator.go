// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/models"
)

// seenSource supplies the user's already-exposed items. Satisfied by
// *feedback.Store.
type seenSource interface {
	SeenSet(ctx context.Context, userID string) (map[string]struct{}, error)
}

// AggregatorConfig controls candidate merging.
type AggregatorConfig struct {
	// ModelTimeout bounds the personalized-model call. On expiry the
	// build proceeds with trending candidates only.
	ModelTimeout time.Duration

	// MaxCandidates caps the merged pool.
	MaxCandidates int
}

// Aggregator merges personalized model output with the trending
// snapshot into one ranked candidate pool. The model is optional at
// runtime: timeouts, errors and an open breaker all degrade to
// trending-only results, never to a failed build.
type Aggregator struct {
	cfg      AggregatorConfig
	model    Model
	trending *Trending
	seen     seenSource
	catalog  categoryLookup
}

// NewAggregator creates an aggregator. model may be nil, which
// disables the personalized source entirely.
func NewAggregator(cfg AggregatorConfig, model Model, trending *Trending, seen seenSource, catalog categoryLookup) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		model:    model,
		trending: trending,
		seen:     seen,
		catalog:  catalog,
	}
}

// Build produces the ranked candidate pool for (userID, rctx):
// personalized and trending sources unioned, deduplicated keeping the
// higher score, seen and unavailable items dropped, sorted by
// descending score with ties broken by the higher trending score.
func (a *Aggregator) Build(ctx context.Context, userID string, rctx map[string]string) ([]models.ScoredItem, error) {
	snap := a.trending.Snapshot()

	personalized := a.scorePersonalized(ctx, userID, rctx)

	seen, err := a.seen.SeenSet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load seen set for %s: %w", userID, err)
	}

	merged := make(map[string]models.ScoredItem, len(personalized)+len(snap.Global))
	for itemID, score := range personalized {
		merged[itemID] = models.ScoredItem{ItemID: itemID, Score: score, Source: models.SourceModel}
	}
	for _, it := range snap.Global {
		if prev, ok := merged[it.ItemID]; !ok || it.Score > prev.Score {
			merged[it.ItemID] = it
		}
	}

	out := make([]models.ScoredItem, 0, len(merged))
	for itemID, it := range merged {
		if _, wasSeen := seen[itemID]; wasSeen {
			continue
		}
		if !a.catalog.Available(itemID) {
			continue
		}
		out = append(out, it)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ti, tj := snap.Score(out[i].ItemID), snap.Score(out[j].ItemID)
		if ti != tj {
			return ti > tj
		}
		return out[i].ItemID < out[j].ItemID
	})
	if a.cfg.MaxCandidates > 0 && len(out) > a.cfg.MaxCandidates {
		out = out[:a.cfg.MaxCandidates]
	}
	return out, nil
}

// scorePersonalized calls the model under its own deadline. Every
// failure mode returns an empty map; the request always proceeds.
func (a *Aggregator) scorePersonalized(ctx context.Context, userID string, rctx map[string]string) map[string]float64 {
	if a.model == nil {
		return nil
	}

	mctx, cancel := context.WithTimeout(ctx, a.cfg.ModelTimeout)
	defer cancel()

	scores, err := a.model.Score(mctx, userID, rctx)
	if err != nil {
		evt := logging.Warn()
		if errors.Is(err, ErrModelUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			evt = logging.Debug()
		}
		evt.Err(err).Str("user_id", userID).Msg("Model unavailable, serving trending-only")
		return nil
	}
	return scores
}

// Blend arranges a candidate pool for serving: roughly ratio*k slots
// go to model-sourced items and the rest to trending, each group in
// score order, topped up from the other group when one runs short.
// ratio 1.0 reduces to pure score order of personalized items.
func Blend(pool []models.ScoredItem, ratio float64, k int) []models.ScoredItem {
	if k <= 0 || len(pool) == 0 {
		return nil
	}
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}

	var personalized, popular []models.ScoredItem
	for _, it := range pool {
		if it.Source == models.SourceModel {
			personalized = append(personalized, it)
		} else {
			popular = append(popular, it)
		}
	}

	wantPersonal := int(float64(k)*ratio + 0.5)
	if wantPersonal > len(personalized) {
		wantPersonal = len(personalized)
	}
	wantPopular := k - wantPersonal
	if wantPopular > len(popular) {
		wantPopular = len(popular)
		if extra := k - wantPersonal - wantPopular; extra > 0 {
			wantPersonal = min(len(personalized), wantPersonal+extra)
		}
	}

	out := make([]models.ScoredItem, 0, wantPersonal+wantPopular)
	out = append(out, personalized[:wantPersonal]...)
	out = append(out, popular[:wantPopular]...)

	// Picked items keep global score order regardless of which group
	// quota admitted them.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

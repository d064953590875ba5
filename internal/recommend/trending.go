// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package recommend

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/metrics"
	"github.com/jcastaner/recserve/internal/models"
)

// Snapshot is an immutable trending ranking, published whole. Readers
// keep whichever version was current when their request started; it is
// never mutated after publication.
type Snapshot struct {
	Global     []models.ScoredItem
	ByCategory map[string][]models.ScoredItem
	ComputedAt time.Time
}

// Score returns the snapshot score for itemID, or zero.
func (s *Snapshot) Score(itemID string) float64 {
	if s == nil {
		return 0
	}
	for _, it := range s.Global {
		if it.ItemID == itemID {
			return it.Score
		}
	}
	return 0
}

// categoryLookup resolves an item's category and availability at
// recompute time. Satisfied by *catalog.Registry.
type categoryLookup interface {
	GetItem(itemID string) (models.Item, error)
	Available(itemID string) bool
}

// TrendingConfig controls decay and snapshot size.
type TrendingConfig struct {
	// HalfLife halves an event's contribution per elapsed interval.
	HalfLife time.Duration

	// Window is how long an event keeps contributing at all. Scores
	// decayed below a single view's end-of-window weight are pruned.
	Window time.Duration

	// Size caps each published ranking.
	Size int
}

// Trending accumulates feedback into exponentially decayed per-item
// scores and periodically publishes them as an immutable Snapshot.
// Observe is fed from the event bus; Recompute runs on a timer.
type Trending struct {
	cfg     TrendingConfig
	catalog categoryLookup

	mu sync.Mutex
	// scores are normalized to ref: a score's value is what the item
	// would measure at the ref instant.
	scores map[string]float64
	ref    time.Time

	snapshot atomic.Pointer[Snapshot]
}

// NewTrending creates an accumulator with an empty published snapshot.
func NewTrending(cfg TrendingConfig, catalog categoryLookup) *Trending {
	t := &Trending{
		cfg:     cfg,
		catalog: catalog,
		scores:  make(map[string]float64),
		ref:     time.Now().UTC(),
	}
	t.snapshot.Store(&Snapshot{ComputedAt: t.ref})
	return t
}

// Observe folds one feedback event into the accumulator. Events are
// weighted by type and decayed relative to the current reference
// instant, so out-of-order delivery does not skew scores.
func (t *Trending) Observe(ev models.FeedbackEvent) {
	w := ev.Type.Weight()
	if w == 0 {
		return
	}
	if age := time.Since(ev.Timestamp); age > t.cfg.Window {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Decay exponent is positive for events newer than ref; they will
	// be brought back down at the next Recompute.
	exp := float64(ev.Timestamp.Sub(t.ref)) / float64(t.cfg.HalfLife)
	t.scores[ev.ItemID] += w * math.Exp2(exp)
}

// Recompute advances the decay reference, prunes expired items, and
// publishes a fresh Snapshot. Unavailable items are kept in the
// accumulator but excluded from the ranking.
func (t *Trending) Recompute() *Snapshot {
	start := time.Now()
	now := start.UTC()

	t.mu.Lock()
	factor := math.Exp2(-float64(now.Sub(t.ref)) / float64(t.cfg.HalfLife))
	floor := math.Exp2(-float64(t.cfg.Window) / float64(t.cfg.HalfLife))

	ranked := make([]models.ScoredItem, 0, len(t.scores))
	for id, score := range t.scores {
		score *= factor
		if math.Abs(score) < floor {
			delete(t.scores, id)
			continue
		}
		t.scores[id] = score
		if score > 0 && t.catalog.Available(id) {
			ranked = append(ranked, models.ScoredItem{ItemID: id, Score: score, Source: models.SourceTrending})
		}
	}
	t.ref = now
	t.mu.Unlock()

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ItemID < ranked[j].ItemID
	})
	if t.cfg.Size > 0 && len(ranked) > t.cfg.Size {
		ranked = ranked[:t.cfg.Size]
	}

	byCategory := make(map[string][]models.ScoredItem)
	for _, it := range ranked {
		item, err := t.catalog.GetItem(it.ItemID)
		if err != nil || item.Category == "" {
			continue
		}
		byCategory[item.Category] = append(byCategory[item.Category], it)
	}

	snap := &Snapshot{
		Global:     ranked,
		ByCategory: byCategory,
		ComputedAt: now,
	}
	t.snapshot.Store(snap)

	metrics.TrendingRecomputeDuration.Observe(time.Since(start).Seconds())
	metrics.TrendingSnapshotItems.Set(float64(len(ranked)))
	logging.Debug().
		Int("items", len(ranked)).
		Int("categories", len(byCategory)).
		Msg("Trending snapshot published")
	return snap
}

// Snapshot returns the currently published ranking. Never nil.
func (t *Trending) Snapshot() *Snapshot {
	return t.snapshot.Load()
}

// SeedSnapshot installs a ranking directly, bypassing the accumulator.
// Intended for tests and for serving before the first recompute.
func (t *Trending) SeedSnapshot(items []models.ScoredItem) {
	for i := range items {
		items[i].Source = models.SourceTrending
	}
	t.snapshot.Store(&Snapshot{
		Global:     items,
		ByCategory: map[string][]models.ScoredItem{},
		ComputedAt: time.Now().UTC(),
	})
}

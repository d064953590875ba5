// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package recommend

import (
	"testing"
	"time"

	"github.com/jcastaner/recserve/internal/models"
)

func event(item string, typ models.EventType, age time.Duration) models.FeedbackEvent {
	return models.FeedbackEvent{
		UserID:    "u1",
		ItemID:    item,
		Type:      typ,
		Timestamp: time.Now().UTC().Add(-age),
	}
}

func TestTrendingRanksByWeightedScore(t *testing.T) {
	tr := NewTrending(TrendingConfig{HalfLife: 24 * time.Hour, Window: 7 * 24 * time.Hour, Size: 10}, &fakeCatalog{})

	tr.Observe(event("bought", models.EventPurchase, 0)) // weight 4
	tr.Observe(event("liked", models.EventLike, 0))      // weight 2
	tr.Observe(event("viewed", models.EventView, 0))     // weight 1
	tr.Observe(event("viewed", models.EventView, 0))     // accumulates to 2, ties with liked

	snap := tr.Recompute()
	if len(snap.Global) != 3 {
		t.Fatalf("snapshot has %d items, want 3: %v", len(snap.Global), snap.Global)
	}
	if snap.Global[0].ItemID != "bought" {
		t.Errorf("top item = %s, want bought", snap.Global[0].ItemID)
	}
	// Equal scores fall back to item ID order.
	if snap.Global[1].ItemID != "liked" || snap.Global[2].ItemID != "viewed" {
		t.Errorf("tie order wrong: %v", snap.Global)
	}
}

func TestTrendingDecayFavorsRecency(t *testing.T) {
	tr := NewTrending(TrendingConfig{HalfLife: time.Hour, Window: 24 * time.Hour, Size: 10}, &fakeCatalog{})

	// Two likes three hours ago decay to ~0.5; one fresh like stays ~2.
	tr.Observe(event("old", models.EventLike, 3*time.Hour))
	tr.Observe(event("old", models.EventLike, 3*time.Hour))
	tr.Observe(event("fresh", models.EventLike, 0))

	snap := tr.Recompute()
	if len(snap.Global) != 2 || snap.Global[0].ItemID != "fresh" {
		t.Errorf("recent engagement should outrank heavier old engagement: %v", snap.Global)
	}
}

func TestTrendingDislikesSink(t *testing.T) {
	tr := NewTrending(TrendingConfig{HalfLife: time.Hour, Window: 24 * time.Hour, Size: 10}, &fakeCatalog{})

	tr.Observe(event("controversial", models.EventView, 0))
	tr.Observe(event("controversial", models.EventDislike, 0)) // net -1
	tr.Observe(event("fine", models.EventView, 0))

	snap := tr.Recompute()
	if len(snap.Global) != 1 || snap.Global[0].ItemID != "fine" {
		t.Errorf("net-negative items must not trend: %v", snap.Global)
	}
}

func TestTrendingWindowPrunes(t *testing.T) {
	tr := NewTrending(TrendingConfig{HalfLife: time.Hour, Window: 2 * time.Hour, Size: 10}, &fakeCatalog{})

	tr.Observe(event("ancient", models.EventPurchase, 48*time.Hour))
	snap := tr.Recompute()
	if len(snap.Global) != 0 {
		t.Errorf("events outside the window must not contribute: %v", snap.Global)
	}
}

func TestTrendingExcludesUnavailable(t *testing.T) {
	cat := &fakeCatalog{unavailable: map[string]bool{"soldout": true}}
	tr := NewTrending(TrendingConfig{HalfLife: time.Hour, Window: 24 * time.Hour, Size: 10}, cat)

	tr.Observe(event("soldout", models.EventPurchase, 0))
	tr.Observe(event("stocked", models.EventView, 0))

	snap := tr.Recompute()
	if len(snap.Global) != 1 || snap.Global[0].ItemID != "stocked" {
		t.Errorf("unavailable items must be excluded from the ranking: %v", snap.Global)
	}
}

func TestTrendingPerCategory(t *testing.T) {
	cat := &fakeCatalog{categories: map[string]string{"b1": "books", "b2": "books", "g1": "games"}}
	tr := NewTrending(TrendingConfig{HalfLife: time.Hour, Window: 24 * time.Hour, Size: 10}, cat)

	tr.Observe(event("b1", models.EventPurchase, 0))
	tr.Observe(event("b2", models.EventView, 0))
	tr.Observe(event("g1", models.EventLike, 0))

	snap := tr.Recompute()
	if len(snap.ByCategory["books"]) != 2 {
		t.Errorf("books ranking = %v, want 2 items", snap.ByCategory["books"])
	}
	if len(snap.ByCategory["games"]) != 1 {
		t.Errorf("games ranking = %v, want 1 item", snap.ByCategory["games"])
	}
	if snap.ByCategory["books"][0].ItemID != "b1" {
		t.Errorf("category ranking must preserve global order: %v", snap.ByCategory["books"])
	}
}

func TestSnapshotImmutableUnderRecompute(t *testing.T) {
	tr := NewTrending(TrendingConfig{HalfLife: time.Hour, Window: 24 * time.Hour, Size: 10}, &fakeCatalog{})
	tr.Observe(event("first", models.EventView, 0))
	old := tr.Recompute()

	tr.Observe(event("second", models.EventPurchase, 0))
	fresh := tr.Recompute()

	if len(old.Global) != 1 || old.Global[0].ItemID != "first" {
		t.Errorf("previously published snapshot was mutated: %v", old.Global)
	}
	if len(fresh.Global) != 2 {
		t.Errorf("new snapshot incomplete: %v", fresh.Global)
	}
	if tr.Snapshot() != fresh {
		t.Error("Snapshot must return the latest published version")
	}
}

func TestSnapshotNeverNil(t *testing.T) {
	tr := NewTrending(TrendingConfig{HalfLife: time.Hour, Window: time.Hour, Size: 10}, &fakeCatalog{})
	if tr.Snapshot() == nil {
		t.Fatal("fresh accumulator must publish an empty snapshot")
	}
	if n := len(tr.Snapshot().Global); n != 0 {
		t.Errorf("empty snapshot has %d items", n)
	}
}

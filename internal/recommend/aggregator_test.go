// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package recommend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jcastaner/recserve/internal/models"
)

type fakeCatalog struct {
	unavailable map[string]bool
	categories  map[string]string
}

func (f *fakeCatalog) GetItem(itemID string) (models.Item, error) {
	return models.Item{ID: itemID, Category: f.categories[itemID], Available: !f.unavailable[itemID]}, nil
}

func (f *fakeCatalog) Available(itemID string) bool {
	return !f.unavailable[itemID]
}

type fakeSeen map[string]struct{}

func (f fakeSeen) SeenSet(context.Context, string) (map[string]struct{}, error) {
	return f, nil
}

type fakeModel struct {
	scores map[string]float64
	err    error
	delay  time.Duration
}

func (f *fakeModel) Score(ctx context.Context, userID string, rctx map[string]string) (map[string]float64, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.scores, f.err
}

func testAggregator(model Model, seen fakeSeen, cat *fakeCatalog, trendingItems []models.ScoredItem) *Aggregator {
	if cat == nil {
		cat = &fakeCatalog{}
	}
	tr := NewTrending(TrendingConfig{HalfLife: 24 * time.Hour, Window: 7 * 24 * time.Hour, Size: 100}, cat)
	tr.SeedSnapshot(trendingItems)
	return NewAggregator(
		AggregatorConfig{ModelTimeout: 200 * time.Millisecond, MaxCandidates: 100},
		model, tr, seen, cat,
	)
}

func TestBuildMergeAndSeenExclusion(t *testing.T) {
	// User saw item1 and liked item2. Liked items stay eligible.
	agg := testAggregator(
		&fakeModel{scores: map[string]float64{"item2": 8.0, "item4": 7.0}},
		fakeSeen{"item1": {}},
		nil,
		[]models.ScoredItem{{ItemID: "item3", Score: 9.0}, {ItemID: "item1", Score: 5.0}},
	)

	got, err := agg.Build(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []string{"item3", "item2", "item4"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates %v, want %v", len(got), got, want)
	}
	for i, id := range want {
		if got[i].ItemID != id {
			t.Errorf("position %d: %s, want %s (full: %v)", i, got[i].ItemID, id, got)
		}
	}
	if got[0].Score != 9.0 || got[1].Score != 8.0 || got[2].Score != 7.0 {
		t.Errorf("scores wrong: %v", got)
	}
}

func TestBuildDedupeKeepsHigherScore(t *testing.T) {
	agg := testAggregator(
		&fakeModel{scores: map[string]float64{"a": 3.0, "b": 1.0}},
		fakeSeen{},
		nil,
		[]models.ScoredItem{{ItemID: "a", Score: 6.0}, {ItemID: "b", Score: 0.5}},
	)

	got, err := agg.Build(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got[0].ItemID != "a" || got[0].Score != 6.0 || got[0].Source != models.SourceTrending {
		t.Errorf("duplicate should keep higher (trending) score: %+v", got[0])
	}
	if got[1].ItemID != "b" || got[1].Score != 1.0 || got[1].Source != models.SourceModel {
		t.Errorf("duplicate should keep higher (model) score: %+v", got[1])
	}
}

func TestBuildFiltersUnavailable(t *testing.T) {
	agg := testAggregator(
		&fakeModel{scores: map[string]float64{"stocked": 5.0, "soldout": 9.0}},
		fakeSeen{},
		&fakeCatalog{unavailable: map[string]bool{"soldout": true}},
		nil,
	)

	got, err := agg.Build(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(got) != 1 || got[0].ItemID != "stocked" {
		t.Errorf("unavailable item leaked into candidates: %v", got)
	}
}

func TestBuildDegradesOnModelTimeout(t *testing.T) {
	trending := []models.ScoredItem{{ItemID: "t1", Score: 4.0}, {ItemID: "t2", Score: 2.0}}
	agg := testAggregator(
		&fakeModel{scores: map[string]float64{"m1": 99.0}, delay: 2 * time.Second},
		fakeSeen{},
		nil,
		trending,
	)

	start := time.Now()
	got, err := agg.Build(context.Background(), "u1", nil)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("model timeout must not fail the build: %v", err)
	}
	if elapsed > 600*time.Millisecond {
		t.Errorf("build took %s, should return within the model timeout budget", elapsed)
	}
	if len(got) != 2 || got[0].ItemID != "t1" {
		t.Errorf("expected trending-only result, got %v", got)
	}
}

func TestBuildDegradesOnModelError(t *testing.T) {
	agg := testAggregator(
		&fakeModel{err: errors.New("connection refused")},
		fakeSeen{},
		nil,
		[]models.ScoredItem{{ItemID: "t1", Score: 4.0}},
	)

	got, err := agg.Build(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("model error must not fail the build: %v", err)
	}
	if len(got) != 1 || got[0].ItemID != "t1" {
		t.Errorf("expected trending-only result, got %v", got)
	}
}

func TestBuildNilModel(t *testing.T) {
	agg := testAggregator(nil, fakeSeen{}, nil, []models.ScoredItem{{ItemID: "t1", Score: 1.0}})
	got, err := agg.Build(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("nil model should serve trending: %v", got)
	}
}

func TestBuildCapsCandidates(t *testing.T) {
	scores := make(map[string]float64)
	for i := 0; i < 50; i++ {
		scores[string(rune('a'+i%26))+string(rune('a'+i/26))] = float64(i)
	}
	cat := &fakeCatalog{}
	tr := NewTrending(TrendingConfig{HalfLife: time.Hour, Window: time.Hour, Size: 10}, cat)
	agg := NewAggregator(AggregatorConfig{ModelTimeout: time.Second, MaxCandidates: 10},
		&fakeModel{scores: scores}, tr, fakeSeen{}, cat)

	got, err := agg.Build(context.Background(), "u1", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(got) != 10 {
		t.Errorf("pool size %d, want capped at 10", len(got))
	}
	if got[0].Score != 49 {
		t.Errorf("cap must keep the highest scores, top = %v", got[0])
	}
}

func TestBlendRatio(t *testing.T) {
	pool := []models.ScoredItem{
		{ItemID: "m1", Score: 10, Source: models.SourceModel},
		{ItemID: "t1", Score: 9, Source: models.SourceTrending},
		{ItemID: "m2", Score: 8, Source: models.SourceModel},
		{ItemID: "t2", Score: 7, Source: models.SourceTrending},
		{ItemID: "m3", Score: 6, Source: models.SourceModel},
		{ItemID: "t3", Score: 5, Source: models.SourceTrending},
	}

	tests := []struct {
		name  string
		ratio float64
		k     int
		want  []string
	}{
		{"balanced half", 0.5, 4, []string{"m1", "t1", "m2", "t2"}},
		{"all personalized", 1.0, 3, []string{"m1", "m2", "m3"}},
		{"all popular", 0.0, 3, []string{"t1", "t2", "t3"}},
		{"default seventy percent", 0.7, 4, []string{"m1", "t1", "m2", "m3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Blend(pool, tt.ratio, tt.k)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i, id := range tt.want {
				if got[i].ItemID != id {
					t.Errorf("position %d: %s, want %s (full: %v)", i, got[i].ItemID, id, got)
				}
			}
		})
	}
}

func TestBlendTopsUpWhenGroupShort(t *testing.T) {
	pool := []models.ScoredItem{
		{ItemID: "m1", Score: 10, Source: models.SourceModel},
		{ItemID: "t1", Score: 9, Source: models.SourceTrending},
		{ItemID: "t2", Score: 8, Source: models.SourceTrending},
		{ItemID: "t3", Score: 7, Source: models.SourceTrending},
	}
	got := Blend(pool, 0.7, 4)
	if len(got) != 4 {
		t.Fatalf("short personalized group must be topped up from popular: %v", got)
	}
}

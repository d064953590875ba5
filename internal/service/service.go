// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package service orchestrates the request path: cache consultation,
// candidate building on miss, ratio blending, pagination, and the
// asynchronous served-event record. It owns the error taxonomy the API
// layer maps to status codes.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jcastaner/recserve/internal/catalog"
	"github.com/jcastaner/recserve/internal/events"
	"github.com/jcastaner/recserve/internal/featurecache"
	"github.com/jcastaner/recserve/internal/feedback"
	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/models"
	"github.com/jcastaner/recserve/internal/recommend"
)

// Variant names map to preset personalization ratios, mirroring the
// personalized/popular/balanced presets of the serving API.
const (
	VariantPersonalized = "personalized"
	VariantPopular      = "popular"
	VariantBalanced     = "balanced"
)

var variantRatios = map[string]float64{
	VariantPersonalized: 0.8,
	VariantPopular:      0.2,
	VariantBalanced:     0.5,
}

// Config holds serving-path parameters.
type Config struct {
	DefaultK        int
	MaxK            int
	DefaultRatio    float64
	DefaultPageSize int
	MinPageSize     int
	MaxPageSize     int
}

// RecommendRequest is a resolved recommendation query.
type RecommendRequest struct {
	UserID  string
	Context map[string]string

	// K caps the blended list before pagination. Zero means default.
	K int

	// Ratio overrides the personalization ratio when non-nil.
	Ratio *float64

	// Variant selects a preset ratio; explicit Ratio wins.
	Variant string

	// Page is 1-based. Zero means the first page.
	Page int

	// Limit is the page size. Zero means default; out-of-range values
	// are clamped, not rejected.
	Limit int
}

// RecommendResult is a served recommendation page.
type RecommendResult struct {
	Items    []models.ScoredItem
	Cached   bool
	Page     models.PageInfo
	Fallback bool // true when served from the trending snapshot
}

// Service is the recommendation orchestrator.
type Service struct {
	cfg       Config
	store     *feedback.Store
	catalog   *catalog.Registry
	cache     *featurecache.Cache
	refresher *featurecache.Refresher
	agg       *recommend.Aggregator
	trending  *recommend.Trending
	bus       *events.Bus

	// serveWG tracks async served-event writers for clean shutdown.
	serveWG sync.WaitGroup
}

// New wires the orchestrator. The refresher is created here so its
// build function closes over the same entry builder the miss path
// uses.
func New(cfg Config, store *feedback.Store, cat *catalog.Registry, cache *featurecache.Cache,
	agg *recommend.Aggregator, trending *recommend.Trending, bus *events.Bus,
	refreshPerSecond float64, refreshBurst int,
) *Service {
	s := &Service{
		cfg:      cfg,
		store:    store,
		catalog:  cat,
		cache:    cache,
		agg:      agg,
		trending: trending,
		bus:      bus,
	}
	s.refresher = featurecache.NewRefresher(cache, s.BuildEntry, refreshPerSecond, refreshBurst, 5*time.Second)
	return s
}

// Recommend serves a ranked page for the request. Unknown and
// cold-start users get the trending snapshot; NotFoundError is raised
// only when even that is empty.
func (s *Service) Recommend(ctx context.Context, req RecommendRequest) (*RecommendResult, error) {
	req.Context = models.FilterContext(req.Context)
	k := s.clampK(req.K)
	ratio := s.resolveRatio(req)

	gen := s.store.Generation(req.UserID)
	key := featurecache.Key(req.UserID, req.Context)

	var (
		pool   []models.ScoredItem
		cached bool
	)
	entry, outcome := s.cache.Get(key, gen)
	switch outcome {
	case featurecache.Hit:
		pool, cached = entry.Items, true
	case featurecache.SoftStale:
		pool, cached = entry.Items, true
		s.refresher.Trigger(req.UserID, req.Context)
	case featurecache.Miss:
		built, err := s.BuildEntry(ctx, req.UserID, req.Context)
		if err != nil {
			return nil, classifyStoreError(err)
		}
		s.cache.Put(key, built)
		pool = built.Items
	}

	fallback := false
	if len(pool) == 0 {
		pool = s.trending.Snapshot().Global
		fallback = true
		if len(pool) == 0 {
			return nil, &NotFoundError{Resource: "recommendations", ID: req.UserID}
		}
	}

	ranked := recommend.Blend(pool, ratio, k)
	page, pageInfo := s.paginate(ranked, req.Page, req.Limit)

	s.recordServed(req.UserID, req.Context, page)

	return &RecommendResult{
		Items:    page,
		Cached:   cached,
		Page:     pageInfo,
		Fallback: fallback,
	}, nil
}

// BuildEntry recomputes the candidate pool for (userID, rctx) and
// stamps it with the generation observed before the build started, so
// feedback landing mid-build marks the entry stale rather than being
// silently absorbed.
func (s *Service) BuildEntry(ctx context.Context, userID string, rctx map[string]string) (featurecache.Entry, error) {
	gen := s.store.Generation(userID)
	items, err := s.agg.Build(ctx, userID, rctx)
	if err != nil {
		return featurecache.Entry{}, err
	}
	return featurecache.Entry{Items: items, Generation: gen}, nil
}

// RecordFeedback validates, durably appends, and fans out one external
// feedback event. Unknown users are registered in the catalog on their
// first feedback. The bus publish happens after the write is
// acknowledged; a publish failure is logged, not surfaced, since the
// event is already durable and trending will recover it on restart.
func (s *Service) RecordFeedback(ctx context.Context, ev models.FeedbackEvent) (models.FeedbackEvent, error) {
	stored, err := s.store.Record(ctx, ev)
	if err != nil {
		return models.FeedbackEvent{}, classifyStoreError(err)
	}
	if !s.catalog.HasUser(stored.UserID) {
		if err := s.catalog.RegisterUser(ctx, models.User{ID: stored.UserID}); err != nil {
			logging.Warn().Err(err).Str("user_id", stored.UserID).Msg("Implicit user registration failed")
		}
	}
	if err := s.bus.PublishFeedback(stored); err != nil {
		logging.Error().Err(err).Str("user_id", stored.UserID).Msg("Feedback fan-out failed")
	}
	return stored, nil
}

// RegisterUser adds a user to the catalog.
func (s *Service) RegisterUser(ctx context.Context, u models.User) error {
	return s.catalog.RegisterUser(ctx, u)
}

// GetUser returns the registered user or catalog.ErrNotFound.
func (s *Service) GetUser(userID string) (models.User, error) {
	return s.catalog.GetUser(userID)
}

// RegisterItem adds an item to the catalog.
func (s *Service) RegisterItem(ctx context.Context, it models.Item) error {
	return s.catalog.RegisterItem(ctx, it)
}

// TrendingPage returns a page of the current trending snapshot,
// optionally restricted to one category.
func (s *Service) TrendingPage(category string, page, limit int) ([]models.ScoredItem, models.PageInfo, error) {
	snap := s.trending.Snapshot()
	items := snap.Global
	if category != "" {
		items = snap.ByCategory[category]
	}
	if len(items) == 0 {
		return nil, models.PageInfo{}, &NotFoundError{Resource: "trending items", ID: category}
	}
	out, info := s.paginate(items, page, limit)
	return out, info, nil
}

// Stats summarizes the serving state for the stats endpoint.
type Stats struct {
	Users            int            `json:"users"`
	Items            int            `json:"items"`
	FeedbackEvents   int64          `json:"feedback_events"`
	CacheEntries     int            `json:"cache_entries"`
	TrendingItems    int            `json:"trending_items"`
	TrendingComputed time.Time      `json:"trending_computed_at"`
	Store            feedback.Stats `json:"store"`
}

// Stats collects counters from every component.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	storeStats, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, &UnavailableError{Dependency: "feedback store", Err: err}
	}
	users, items := s.catalog.Counts()
	snap := s.trending.Snapshot()
	return Stats{
		Users:            users,
		Items:            items,
		FeedbackEvents:   storeStats.Events,
		CacheEntries:     s.cache.Len(),
		TrendingItems:    len(snap.Global),
		TrendingComputed: snap.ComputedAt,
		Store:            storeStats,
	}, nil
}

// Close drains async writers and the refresher. The stores and bus are
// owned by the caller.
func (s *Service) Close() {
	s.refresher.Close()
	s.serveWG.Wait()
}

// recordServed appends one served event per returned item without
// blocking the response. Failures are logged; a lost impression only
// weakens seen-set filtering.
func (s *Service) recordServed(userID string, rctx map[string]string, items []models.ScoredItem) {
	if len(items) == 0 {
		return
	}
	s.serveWG.Add(1)
	go func() {
		defer s.serveWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, it := range items {
			_, err := s.store.Record(ctx, models.FeedbackEvent{
				UserID:  userID,
				ItemID:  it.ItemID,
				Type:    models.EventServed,
				Context: rctx,
			})
			if err != nil {
				logging.Warn().Err(err).Str("user_id", userID).Msg("Served-event record failed")
				return
			}
		}
	}()
}

func (s *Service) clampK(k int) int {
	if k <= 0 {
		return s.cfg.DefaultK
	}
	if k > s.cfg.MaxK {
		return s.cfg.MaxK
	}
	return k
}

func (s *Service) resolveRatio(req RecommendRequest) float64 {
	if req.Ratio != nil {
		r := *req.Ratio
		if r < 0 {
			return 0
		}
		if r > 1 {
			return 1
		}
		return r
	}
	if r, ok := variantRatios[req.Variant]; ok {
		return r
	}
	return s.cfg.DefaultRatio
}

func (s *Service) paginate(items []models.ScoredItem, page, limit int) ([]models.ScoredItem, models.PageInfo) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit <= 0:
		limit = s.cfg.DefaultPageSize
	case limit < s.cfg.MinPageSize:
		limit = s.cfg.MinPageSize
	case limit > s.cfg.MaxPageSize:
		limit = s.cfg.MaxPageSize
	}

	total := len(items)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	info := models.PageInfo{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: end < total,
	}
	return items[start:end], info
}

// classifyStoreError separates caller problems from store problems.
// Validation failures and context aborts pass through unchanged;
// anything else means the feedback store could not take the operation
// and surfaces as UnavailableError.
func classifyStoreError(err error) error {
	if errors.Is(err, feedback.ErrInvalidEvent) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &UnavailableError{Dependency: "feedback store", Err: err}
}

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return errors.Is(err, feedback.ErrInvalidEvent)
}

// IsNotFound reports whether err is a NotFoundError or a catalog miss.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) || errors.Is(err, catalog.ErrNotFound)
}

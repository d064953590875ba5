// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package featurecache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/metrics"
)

// BuildFunc recomputes the candidate list for one (user, context) key.
// It returns the entry to cache, already stamped with the generation
// it was built at.
type BuildFunc func(ctx context.Context, userID string, rctx map[string]string) (Entry, error)

// Refresher runs background rebuilds of soft-stale entries. Concurrent
// triggers for the same key coalesce into a single build, and overall
// rebuild throughput is bounded by a rate limiter so a feedback burst
// cannot saturate the aggregator.
type Refresher struct {
	cache   *Cache
	build   BuildFunc
	group   singleflight.Group
	limiter *rate.Limiter
	timeout time.Duration

	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRefresher creates a refresher writing rebuilt entries into cache.
// perSecond and burst bound refresh throughput; timeout bounds each
// individual rebuild.
func NewRefresher(cache *Cache, build BuildFunc, perSecond float64, burst int, timeout time.Duration) *Refresher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Refresher{
		cache:   cache,
		build:   build,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		timeout: timeout,
	}
}

// Trigger schedules an asynchronous rebuild for (userID, rctx). It
// never blocks the caller. Duplicate triggers while a rebuild for the
// same key is in flight join that rebuild instead of starting another.
// Triggers beyond the rate limit are dropped; the entry stays
// soft-stale until a later trigger or TTL expiry.
func (r *Refresher) Trigger(userID string, rctx map[string]string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.refresh(userID, rctx)
	}()
}

func (r *Refresher) refresh(userID string, rctx map[string]string) {
	key := Key(userID, rctx)

	_, _, shared := r.group.Do(key, func() (any, error) {
		if !r.limiter.Allow() {
			return nil, nil
		}
		metrics.RefreshesExecuted.Inc()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		entry, err := r.build(ctx, userID, rctx)
		if err != nil {
			logging.Warn().
				Err(err).
				Str("user_id", userID).
				Msg("Background cache refresh failed")
			return nil, err
		}
		r.cache.Put(key, entry)
		return nil, nil
	})
	if shared {
		metrics.RefreshesCoalesced.Inc()
	}
}

// Close waits for in-flight rebuilds to finish. Further triggers are
// ignored.
func (r *Refresher) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package featurecache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcastaner/recserve/internal/models"
)

func entry(gen uint64, items ...string) Entry {
	scored := make([]models.ScoredItem, len(items))
	for i, id := range items {
		scored[i] = models.ScoredItem{ItemID: id, Score: float64(len(items) - i)}
	}
	return Entry{Items: scored, Generation: gen, StoredAt: time.Now()}
}

func TestKeyStability(t *testing.T) {
	a := Key("u1", map[string]string{"locale": "de", "surface": "web"})
	b := Key("u1", map[string]string{"surface": "web", "locale": "de"})
	if a != b {
		t.Errorf("key must not depend on map iteration order: %q vs %q", a, b)
	}
	if a == Key("u1", map[string]string{"locale": "fr", "surface": "web"}) {
		t.Error("different context values must produce different keys")
	}
	if Key("u1", nil) == Key("u2", nil) {
		t.Error("different users must produce different keys")
	}
}

func TestGetOutcomes(t *testing.T) {
	c := New(100, 4, time.Minute)
	key := Key("u1", nil)

	if _, out := c.Get(key, 0); out != Miss {
		t.Errorf("empty cache: outcome = %v, want Miss", out)
	}

	c.Put(key, entry(3, "i1", "i2"))

	if got, out := c.Get(key, 3); out != Hit {
		t.Errorf("matching generation: outcome = %v, want Hit", out)
	} else if len(got.Items) != 2 || got.Items[0].ItemID != "i1" {
		t.Errorf("entry round-trip corrupted: %+v", got.Items)
	}

	if got, out := c.Get(key, 5); out != SoftStale {
		t.Errorf("generation behind: outcome = %v, want SoftStale", out)
	} else if len(got.Items) != 2 {
		t.Error("soft-stale hit must still return the stale entry")
	}
}

func TestTTLExpiryIsMiss(t *testing.T) {
	c := New(100, 4, 10*time.Millisecond)
	key := Key("u1", nil)
	c.Put(key, entry(1, "i1"))

	time.Sleep(25 * time.Millisecond)
	if _, out := c.Get(key, 1); out != Miss {
		t.Errorf("expired entry: outcome = %v, want Miss", out)
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed, len = %d", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	// Single shard so capacity is exact.
	c := New(3, 1, time.Minute)

	for _, u := range []string{"a", "b", "c"} {
		c.Put(Key(u, nil), entry(1, "x"))
	}
	// Touch "a" so "b" becomes least recently used.
	c.Get(Key("a", nil), 1)
	c.Put(Key("d", nil), entry(1, "x"))

	if _, out := c.Get(Key("b", nil), 1); out != Miss {
		t.Error("least recently used entry should have been evicted")
	}
	for _, u := range []string{"a", "c", "d"} {
		if _, out := c.Get(Key(u, nil), 1); out == Miss {
			t.Errorf("entry %s should have survived eviction", u)
		}
	}
}

func TestInvalidateDropsAllUserContexts(t *testing.T) {
	c := New(100, 4, time.Minute)
	c.Put(Key("u1", nil), entry(1, "a"))
	c.Put(Key("u1", map[string]string{"locale": "de"}), entry(1, "b"))
	c.Put(Key("u2", nil), entry(1, "c"))

	if n := c.Invalidate("u1"); n != 2 {
		t.Errorf("Invalidate removed %d entries, want 2", n)
	}
	if _, out := c.Get(Key("u1", nil), 1); out != Miss {
		t.Error("u1 base context should be gone")
	}
	if _, out := c.Get(Key("u2", nil), 1); out != Hit {
		t.Error("u2 must be untouched by u1 invalidation")
	}
}

func TestRefresherCoalesces(t *testing.T) {
	c := New(100, 4, time.Minute)
	var builds atomic.Int32
	release := make(chan struct{})

	build := func(ctx context.Context, userID string, rctx map[string]string) (Entry, error) {
		builds.Add(1)
		<-release
		return entry(7, "rebuilt"), nil
	}
	r := NewRefresher(c, build, 1000, 1000, time.Second)

	const triggers = 16
	for i := 0; i < triggers; i++ {
		r.Trigger("u1", nil)
	}
	// Let the goroutines join the in-flight build before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	r.Close()

	if n := builds.Load(); n != 1 {
		t.Errorf("%d concurrent triggers ran %d builds, want exactly 1", triggers, n)
	}
	got, out := c.Get(Key("u1", nil), 7)
	if out != Hit {
		t.Fatalf("rebuilt entry outcome = %v, want Hit", out)
	}
	if got.Items[0].ItemID != "rebuilt" {
		t.Errorf("cache not updated with rebuilt entry: %+v", got.Items)
	}
}

func TestRefresherRateLimitDropsExcess(t *testing.T) {
	c := New(100, 4, time.Minute)
	var builds atomic.Int32
	build := func(ctx context.Context, userID string, rctx map[string]string) (Entry, error) {
		builds.Add(1)
		return entry(1, "x"), nil
	}
	// Burst of 2, effectively no refill within the test window.
	r := NewRefresher(c, build, 0.001, 2, time.Second)

	for i := 0; i < 10; i++ {
		r.Trigger("u"+string(rune('a'+i)), nil)
	}
	r.Close()

	if n := builds.Load(); n > 2 {
		t.Errorf("rate limiter allowed %d builds, want at most 2", n)
	}
}

func TestRefresherBuildErrorKeepsOldEntry(t *testing.T) {
	c := New(100, 4, time.Minute)
	key := Key("u1", nil)
	c.Put(key, entry(1, "old"))

	build := func(ctx context.Context, userID string, rctx map[string]string) (Entry, error) {
		return Entry{}, context.DeadlineExceeded
	}
	r := NewRefresher(c, build, 1000, 1000, time.Second)
	r.Trigger("u1", nil)
	r.Close()

	got, out := c.Get(key, 1)
	if out != Hit || got.Items[0].ItemID != "old" {
		t.Error("failed refresh must leave the previous entry in place")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(1000, 16, time.Minute)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			user := string(rune('a' + w))
			for i := 0; i < 200; i++ {
				key := Key(user, nil)
				c.Put(key, entry(uint64(i), "x"))
				c.Get(key, uint64(i))
				if i%50 == 0 {
					c.Invalidate(user)
				}
			}
		}(w)
	}
	wg.Wait()
}

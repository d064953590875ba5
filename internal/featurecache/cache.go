// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package featurecache is the in-memory cache of precomputed candidate
// lists, keyed by (user, context). Entries carry the feedback
// generation they were built at: a generation mismatch is a soft-stale
// hit, served immediately while a background refresh is coalesced per
// key. Hard expiry is by TTL.
package featurecache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jcastaner/recserve/internal/metrics"
	"github.com/jcastaner/recserve/internal/models"
)

// Outcome classifies a cache lookup.
type Outcome int

const (
	// Miss means no usable entry exists; the caller must build one.
	Miss Outcome = iota
	// Hit means the entry is fresh.
	Hit
	// SoftStale means the entry's generation is behind the feedback
	// store. It is still served; the caller should trigger a refresh.
	SoftStale
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case SoftStale:
		return "soft_stale"
	default:
		return "miss"
	}
}

// Entry is a cached candidate list.
type Entry struct {
	Items      []models.ScoredItem
	Generation uint64
	StoredAt   time.Time
}

// Key identifies a cached list: the user plus a stable hash of the
// recognized context tags.
func Key(userID string, rctx map[string]string) string {
	if len(rctx) == 0 {
		return userID + "|"
	}
	keys := make([]string, 0, len(rctx))
	for k := range rctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(rctx[k]))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%s|%016x", userID, h.Sum64())
}

type node struct {
	key   string
	entry Entry
	prev  *node
	next  *node
}

// shard is one independently locked segment of the cache. It follows
// the sentinel doubly-linked-list LRU layout: head.next is most
// recently used, tail.prev is next to evict.
type shard struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*node
	head     *node
	tail     *node
}

func newShard(capacity int, ttl time.Duration) *shard {
	s := &shard{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*node, capacity),
		head:     &node{},
		tail:     &node{},
	}
	s.head.next = s.tail
	s.tail.prev = s.head
	return s
}

// Cache is the sharded feature cache. Safe for concurrent use.
type Cache struct {
	shards []*shard
	mask   uint32
}

// New creates a cache with maxEntries spread across shards. shards
// must be a power of two.
func New(maxEntries, shards int, ttl time.Duration) *Cache {
	if shards <= 0 || shards&(shards-1) != 0 {
		shards = 64
	}
	perShard := maxEntries / shards
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{
		shards: make([]*shard, shards),
		mask:   uint32(shards - 1),
	}
	for i := range c.shards {
		c.shards[i] = newShard(perShard, ttl)
	}
	return c
}

// Get looks up key and classifies the result against currentGen, the
// user's live feedback generation. Expired entries are removed and
// reported as misses. Fresh and soft-stale lookups refresh LRU order.
func (c *Cache) Get(key string, currentGen uint64) (Entry, Outcome) {
	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	n, ok := sh.items[key]
	if !ok {
		metrics.CacheMisses.Inc()
		return Entry{}, Miss
	}
	if time.Since(n.entry.StoredAt) > sh.ttl {
		sh.remove(n)
		metrics.CacheEvictions.WithLabelValues("ttl").Inc()
		metrics.CacheMisses.Inc()
		metrics.CacheSize.Dec()
		return Entry{}, Miss
	}

	sh.moveToFront(n)
	if n.entry.Generation < currentGen {
		metrics.CacheHits.WithLabelValues("soft_stale").Inc()
		return n.entry, SoftStale
	}
	metrics.CacheHits.WithLabelValues("fresh").Inc()
	return n.entry, Hit
}

// Put stores entry under key, evicting the least recently used entry
// if the shard is full.
func (c *Cache) Put(key string, entry Entry) {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}

	sh := c.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if n, ok := sh.items[key]; ok {
		n.entry = entry
		sh.moveToFront(n)
		return
	}

	if len(sh.items) >= sh.capacity {
		sh.evictOldest()
	}

	n := &node{key: key, entry: entry}
	sh.items[key] = n
	sh.insertFront(n)
	metrics.CacheSize.Inc()
}

// Invalidate drops every entry belonging to userID, across all
// contexts.
func (c *Cache) Invalidate(userID string) int {
	prefix := userID + "|"
	sh := c.shard(prefix)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	removed := 0
	for key, n := range sh.items {
		if strings.HasPrefix(key, prefix) {
			sh.remove(n)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("invalidated").Add(float64(removed))
		metrics.CacheSize.Sub(float64(removed))
	}
	return removed
}

// Len returns the total number of cached entries.
func (c *Cache) Len() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		total += len(sh.items)
		sh.mu.Unlock()
	}
	return total
}

// shard routes a key by its user segment so all of a user's contexts
// land in one shard and Invalidate scans a single segment.
func (c *Cache) shard(key string) *shard {
	user := key
	if i := strings.IndexByte(key, '|'); i >= 0 {
		user = key[:i]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return c.shards[h.Sum32()&c.mask]
}

func (s *shard) evictOldest() {
	if cur := s.tail.prev; cur != s.head {
		s.remove(cur)
		metrics.CacheEvictions.WithLabelValues("lru").Inc()
		metrics.CacheSize.Dec()
	}
}

func (s *shard) remove(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
	delete(s.items, n.key)
}

func (s *shard) insertFront(n *node) {
	n.next = s.head.next
	n.prev = s.head
	s.head.next.prev = n
	s.head.next = n
}

func (s *shard) moveToFront(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	s.insertFront(n)
}

// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package feedback implements the durable, append-ordered feedback log
// on BadgerDB. Every accepted event is fsynced before the write is
// acknowledged, and each write advances the owning user's generation
// counter, which the feature cache uses for staleness checks.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/metrics"
	"github.com/jcastaner/recserve/internal/models"
)

// Key layout:
//
//	fb:<user_id>:<timestamp_ns 20 digits>:<seq 8 digits> -> event JSON
//	gen:<user_id>                                        -> uint64 decimal
//
// Fixed-width timestamp and sequence keep lexicographic key order equal
// to append order within a user's prefix.
const (
	eventPrefix = "fb:"
	genPrefix   = "gen:"
)

var (
	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("feedback store is closed")

	// ErrInvalidEvent is wrapped around event validation failures.
	ErrInvalidEvent = errors.New("invalid feedback event")
)

// Store is the append-only feedback log. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	config Config

	mu     sync.RWMutex
	closed bool

	// stripes serialize writes per user so the read-increment of the
	// generation counter and the event append commit atomically from
	// the perspective of other writers to the same user.
	stripes []sync.Mutex

	seq atomic.Uint64

	// gens caches generation counters so cache staleness checks do not
	// touch badger.
	gens sync.Map // user_id -> *atomic.Uint64
}

// Open opens (or creates) the feedback log at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feedback config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.MemTableSize = cfg.MemTableSize
	opts.NumCompactors = cfg.NumCompactors
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := &Store{
		db:      db,
		config:  cfg,
		stripes: make([]sync.Mutex, cfg.LockShards),
	}
	if err := s.loadGenerations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load generation counters: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Int("lock_shards", cfg.LockShards).
		Msg("Feedback store opened")
	return s, nil
}

// Record validates and durably appends event. The event's Timestamp
// and Seq fields are assigned by the store; caller-supplied values are
// ignored. On success the user's generation counter has been advanced.
func (s *Store) Record(ctx context.Context, event models.FeedbackEvent) (models.FeedbackEvent, error) {
	start := time.Now()

	if err := validateEvent(event); err != nil {
		metrics.FeedbackWriteErrors.WithLabelValues("validation").Inc()
		return models.FeedbackEvent{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.FeedbackEvent{}, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return models.FeedbackEvent{}, ErrClosed
	}
	s.mu.RUnlock()

	event.Context = models.FilterContext(event.Context)

	stripe := &s.stripes[stripeIndex(event.UserID, len(s.stripes))]
	stripe.Lock()
	defer stripe.Unlock()

	// Assigned under the stripe lock so a user's key order matches the
	// order writes were acknowledged in.
	event.Timestamp = time.Now().UTC()
	event.Seq = s.seq.Add(1)

	data, err := json.Marshal(event)
	if err != nil {
		metrics.FeedbackWriteErrors.WithLabelValues("encode").Inc()
		return models.FeedbackEvent{}, fmt.Errorf("marshal feedback event: %w", err)
	}

	key := eventKey(event.UserID, event.Timestamp, event.Seq)

	// Served events record exposure for the seen-set but do not bump
	// the generation counter; otherwise every serve would mark its own
	// freshly cached entry stale.
	bumpGen := event.Type != models.EventServed

	gen := s.generationCounter(event.UserID)
	next := gen.Load()
	if bumpGen {
		next++
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if !bumpGen {
			return nil
		}
		return txn.Set(genKey(event.UserID), []byte(strconv.FormatUint(next, 10)))
	})
	if err != nil {
		metrics.FeedbackWriteErrors.WithLabelValues("storage").Inc()
		return models.FeedbackEvent{}, fmt.Errorf("append feedback event: %w", err)
	}

	if bumpGen {
		gen.Store(next)
	}

	metrics.FeedbackWrites.WithLabelValues(string(event.Type)).Inc()
	metrics.FeedbackWriteDuration.Observe(time.Since(start).Seconds())
	return event, nil
}

// ReadSince returns the user's events with Timestamp >= since, in
// append order. A user with no events yields an empty slice, not an
// error.
func (s *Store) ReadSince(ctx context.Context, userID string, since time.Time) ([]models.FeedbackEvent, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	prefix := []byte(eventPrefix + userID + ":")
	var out []models.FeedbackEvent

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ev models.FeedbackEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode feedback event: %w", err)
			}
			if ev.Timestamp.Before(since) {
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SeenSet returns the distinct item IDs the user has already been
// exposed to, drawn from the most recent events within the configured
// seen window. Only exposure event types contribute (see
// models.EventType.Seen).
func (s *Store) SeenSet(ctx context.Context, userID string) (map[string]struct{}, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	prefix := []byte(eventPrefix + userID + ":")
	seen := make(map[string]struct{})
	scanned := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the prefix range.
		seekKey := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && scanned < s.config.SeenWindow; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ev models.FeedbackEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode feedback event: %w", err)
			}
			if ev.Type.Seen() {
				seen[ev.ItemID] = struct{}{}
			}
			scanned++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seen, nil
}

// ForEachSince streams every stored event with Timestamp >= since to
// fn, across all users, in key order. Used to rebuild the trending
// accumulator after a restart.
func (s *Store) ForEachSince(ctx context.Context, since time.Time, fn func(models.FeedbackEvent) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	prefix := []byte(eventPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ev models.FeedbackEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return fmt.Errorf("decode feedback event: %w", err)
			}
			if ev.Timestamp.Before(since) {
				continue
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Generation returns the user's current generation counter. Users with
// no recorded feedback are at generation zero.
func (s *Store) Generation(userID string) uint64 {
	if v, ok := s.gens.Load(userID); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

// Stats reports store-level counters for the stats endpoint.
type Stats struct {
	Events   int64 `json:"events"`
	Users    int64 `json:"users"`
	LSMBytes int64 `json:"lsm_bytes"`
	VLogSize int64 `json:"vlog_bytes"`
}

// Stats counts stored events and users. The event count is a keys-only
// scan; acceptable at single-node scale.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return Stats{}, ErrClosed
	}
	s.mu.RUnlock()

	var st Stats
	st.LSMBytes, st.VLogSize = s.db.Size()

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(eventPrefix)); it.ValidForPrefix([]byte(eventPrefix)); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			st.Events++
		}
		for it.Seek([]byte(genPrefix)); it.ValidForPrefix([]byte(genPrefix)); it.Next() {
			st.Users++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Close flushes and closes the underlying database. Subsequent calls
// are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	logging.Info().Str("path", s.config.Path).Msg("Feedback store closed")
	return s.db.Close()
}

// loadGenerations warms the in-memory generation cache from disk so
// counters survive restarts.
func (s *Store) loadGenerations() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(genPrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			userID := strings.TrimPrefix(string(it.Item().Key()), genPrefix)
			err := it.Item().Value(func(val []byte) error {
				n, err := strconv.ParseUint(string(val), 10, 64)
				if err != nil {
					return fmt.Errorf("corrupt generation counter for %s: %w", userID, err)
				}
				s.generationCounter(userID).Store(n)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) generationCounter(userID string) *atomic.Uint64 {
	v, _ := s.gens.LoadOrStore(userID, &atomic.Uint64{})
	return v.(*atomic.Uint64)
}

func validateEvent(ev models.FeedbackEvent) error {
	switch {
	case ev.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	case strings.Contains(ev.UserID, ":"):
		return fmt.Errorf("%w: user_id must not contain ':'", ErrInvalidEvent)
	case ev.ItemID == "":
		return fmt.Errorf("%w: item_id is required", ErrInvalidEvent)
	case !ev.Type.Valid() && ev.Type != models.EventServed:
		return fmt.Errorf("%w: unrecognized event type %q", ErrInvalidEvent, ev.Type)
	}
	return nil
}

func eventKey(userID string, ts time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%08d", eventPrefix, userID, ts.UnixNano(), seq))
}

func genKey(userID string) []byte {
	return []byte(genPrefix + userID)
}

func stripeIndex(userID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32()) % n
}

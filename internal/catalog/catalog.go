// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package catalog is the registry of known users and items. Entries
// are persisted to BadgerDB and mirrored into an in-memory index so
// availability checks on the serving path never touch disk.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/models"
)

const (
	userPrefix = "usr:"
	itemPrefix = "itm:"
)

var (
	// ErrClosed is returned for operations on a closed registry.
	ErrClosed = errors.New("catalog is closed")

	// ErrNotFound is returned when a user or item does not exist.
	ErrNotFound = errors.New("not found in catalog")
)

// Source supplies item definitions from an external system of record.
// Implementations are polled by the sync service.
type Source interface {
	FetchItems(ctx context.Context) ([]models.Item, error)
}

// Registry stores users and items. Safe for concurrent use.
type Registry struct {
	db *badger.DB

	mu     sync.RWMutex
	users  map[string]models.User
	items  map[string]models.Item
	closed bool
}

// Open opens (or creates) the registry at path and loads the in-memory
// index.
func Open(path string) (*Registry, error) {
	if path == "" {
		return nil, fmt.Errorf("catalog path must not be empty")
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	r := &Registry{
		db:    db,
		users: make(map[string]models.User),
		items: make(map[string]models.Item),
	}
	if err := r.loadIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load catalog index: %w", err)
	}

	logging.Info().
		Str("path", path).
		Int("users", len(r.users)).
		Int("items", len(r.items)).
		Msg("Catalog opened")
	return r, nil
}

// RegisterUser persists u. Registering an existing ID overwrites its
// labels and active flag.
func (r *Registry) RegisterUser(ctx context.Context, u models.User) error {
	if u.ID == "" {
		return fmt.Errorf("user id must not be empty")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return r.put(ctx, userPrefix+u.ID, u, func() { r.users[u.ID] = u })
}

// RegisterItem persists it. Registering an existing ID overwrites its
// category and availability.
func (r *Registry) RegisterItem(ctx context.Context, it models.Item) error {
	if it.ID == "" {
		return fmt.Errorf("item id must not be empty")
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	return r.put(ctx, itemPrefix+it.ID, it, func() { r.items[it.ID] = it })
}

// SetAvailability flips an item's availability flag.
func (r *Registry) SetAvailability(ctx context.Context, itemID string, available bool) error {
	r.mu.RLock()
	it, ok := r.items[itemID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	it.Available = available
	return r.RegisterItem(ctx, it)
}

// GetUser returns the user or ErrNotFound.
func (r *Registry) GetUser(userID string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return models.User{}, ErrClosed
	}
	u, ok := r.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return u, nil
}

// HasUser reports whether userID is registered.
func (r *Registry) HasUser(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// GetItem returns the item or ErrNotFound.
func (r *Registry) GetItem(itemID string) (models.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return models.Item{}, ErrClosed
	}
	it, ok := r.items[itemID]
	if !ok {
		return models.Item{}, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	return it, nil
}

// Available reports whether itemID exists and is currently available.
func (r *Registry) Available(itemID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[itemID]
	return ok && it.Available
}

// Items returns a snapshot of all registered items.
func (r *Registry) Items() []models.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it)
	}
	return out
}

// Counts returns the number of registered users and items.
func (r *Registry) Counts() (users, items int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users), len(r.items)
}

// Sync pulls the full item set from src and upserts every entry.
// Items absent from the source are marked unavailable rather than
// deleted, so cached references to them stay resolvable.
func (r *Registry) Sync(ctx context.Context, src Source) error {
	fetched, err := src.FetchItems(ctx)
	if err != nil {
		return fmt.Errorf("fetch items from source: %w", err)
	}

	present := make(map[string]struct{}, len(fetched))
	for _, it := range fetched {
		present[it.ID] = struct{}{}
		if err := r.RegisterItem(ctx, it); err != nil {
			return err
		}
	}

	var gone []string
	r.mu.RLock()
	for id, it := range r.items {
		if _, ok := present[id]; !ok && it.Available {
			gone = append(gone, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range gone {
		if err := r.SetAvailability(ctx, id, false); err != nil {
			return err
		}
	}

	logging.Debug().
		Int("fetched", len(fetched)).
		Int("retired", len(gone)).
		Msg("Catalog sync complete")
	return nil
}

// Close closes the underlying database. Subsequent calls are no-ops.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}

func (r *Registry) put(ctx context.Context, key string, v any, apply func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal catalog entry: %w", err)
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("persist catalog entry %s: %w", key, err)
	}
	apply()
	return nil
}

func (r *Registry) loadIndex() error {
	return r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			err := it.Item().Value(func(val []byte) error {
				switch {
				case len(key) > len(userPrefix) && key[:len(userPrefix)] == userPrefix:
					var u models.User
					if err := json.Unmarshal(val, &u); err != nil {
						return fmt.Errorf("corrupt user entry %s: %w", key, err)
					}
					r.users[u.ID] = u
				case len(key) > len(itemPrefix) && key[:len(itemPrefix)] == itemPrefix:
					var item models.Item
					if err := json.Unmarshal(val, &item); err != nil {
						return fmt.Errorf("corrupt item entry %s: %w", key, err)
					}
					r.items[item.ID] = item
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

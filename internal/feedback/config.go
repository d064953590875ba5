// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package feedback

import "fmt"

// Config controls the feedback store.
type Config struct {
	// Path is the BadgerDB directory.
	Path string

	// SyncWrites forces fsync on every append. Required for the
	// durability guarantee; disable only in tests.
	SyncWrites bool

	// SeenWindow bounds how many recent events SeenSet scans.
	SeenWindow int

	// LockShards is the per-user write lock stripe count.
	LockShards int

	// MemTableSize is BadgerDB's memtable size in bytes.
	MemTableSize int64

	// NumCompactors is BadgerDB's compactor goroutine count.
	NumCompactors int
}

// DefaultConfig returns production defaults for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		SyncWrites:    true,
		SeenWindow:    200,
		LockShards:    128,
		MemTableSize:  16 << 20,
		NumCompactors: 2,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("feedback path must not be empty")
	}
	if c.SeenWindow <= 0 {
		return fmt.Errorf("seen window must be positive, got %d", c.SeenWindow)
	}
	if c.LockShards <= 0 {
		return fmt.Errorf("lock shards must be positive, got %d", c.LockShards)
	}
	if c.MemTableSize <= 0 {
		return fmt.Errorf("memtable size must be positive, got %d", c.MemTableSize)
	}
	if c.NumCompactors < 2 {
		return fmt.Errorf("badger requires at least 2 compactors, got %d", c.NumCompactors)
	}
	return nil
}

// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package models

import "time"

// User is a registered recommendation consumer. Users are created on
// first feedback or explicit registration and never deleted, only
// marked inactive.
type User struct {
	ID        string            `json:"user_id"`
	Labels    map[string]string `json:"labels,omitempty"`
	Inactive  bool              `json:"inactive,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Item is a recommendable catalog entry. Availability is mutated by the
// external catalog sync; everything else is set at registration.
type Item struct {
	ID        string    `json:"item_id"`
	Category  string    `json:"category,omitempty"`
	Available bool      `json:"available"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate source names carried on ScoredItem.
const (
	SourceModel    = "model"
	SourceTrending = "trending"
	SourcePopular  = "popular"
)

// ScoredItem is an item plus its relevance score, the unit of candidate
// lists and cache entries.
type ScoredItem struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
	// Source names the candidate source that contributed the winning
	// score: "model", "trending" or "popular".
	Source string `json:"source,omitempty"`
}

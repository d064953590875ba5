// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package models defines the core domain types shared across Recserve:
// feedback events, catalog entities, and the standard API envelope.
package models

import (
	"time"
)

// EventType classifies user-item feedback events. The set is closed:
// unrecognized values are rejected at the store boundary rather than
// carried as free-form strings.
type EventType string

const (
	// EventView indicates the user viewed an item.
	EventView EventType = "view"
	// EventLike indicates an explicit positive signal.
	EventLike EventType = "like"
	// EventDislike indicates an explicit negative signal.
	EventDislike EventType = "dislike"
	// EventPurchase indicates the strongest positive signal.
	EventPurchase EventType = "purchase"
	// EventServed is recorded internally when a recommendation is
	// returned to a user. It feeds the seen-set but is never accepted
	// from external callers.
	EventServed EventType = "served"
)

// Valid reports whether t is one of the recognized external event types.
// EventServed is internal-only and deliberately excluded.
func (t EventType) Valid() bool {
	switch t {
	case EventView, EventLike, EventDislike, EventPurchase:
		return true
	default:
		return false
	}
}

// Seen reports whether this event type marks the item as already seen
// for recommendation exclusion. Exposure events count (the user was
// shown the item, or explicitly rejected it); positive engagement does
// not, so liked and purchased items stay eligible for re-ranking.
func (t EventType) Seen() bool {
	switch t {
	case EventView, EventServed, EventDislike:
		return true
	default:
		return false
	}
}

// Weight returns the trending-score contribution of this event type.
// Dislikes contribute negatively so heavily disliked items sink.
func (t EventType) Weight() float64 {
	switch t {
	case EventPurchase:
		return 4.0
	case EventLike:
		return 2.0
	case EventView:
		return 1.0
	case EventDislike:
		return -2.0
	case EventServed:
		return 0.0
	default:
		return 0.0
	}
}

// Recognized context tag keys. Unknown keys are dropped on ingest so the
// context map stays a closed, enumerable surface.
const (
	ContextLocale  = "locale"
	ContextCohort  = "cohort"
	ContextSurface = "surface"
	ContextSession = "session"
)

// RecognizedContextKeys lists the context tag keys accepted on feedback
// events and recommendation requests.
var RecognizedContextKeys = []string{
	ContextLocale,
	ContextCohort,
	ContextSurface,
	ContextSession,
}

// FilterContext returns a copy of tags containing only recognized keys.
// A nil or empty input returns nil.
func FilterContext(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, key := range RecognizedContextKeys {
		if v, ok := tags[key]; ok && v != "" {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// FeedbackEvent is a single immutable user-item interaction. Events are
// ordered by Timestamp within a user's stream; Seq disambiguates events
// recorded in the same nanosecond.
type FeedbackEvent struct {
	UserID    string            `json:"user_id"`
	ItemID    string            `json:"item_id"`
	Type      EventType         `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Seq       uint64            `json:"seq,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

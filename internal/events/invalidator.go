// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package events

import (
	"context"

	"github.com/jcastaner/recserve/internal/featurecache"
	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/metrics"
	"github.com/jcastaner/recserve/internal/models"
)

// trendingSink receives feedback events for score accumulation.
// Satisfied by *recommend.Trending.
type trendingSink interface {
	Observe(ev models.FeedbackEvent)
}

// Invalidator consumes the feedback topic and applies write-through
// invalidation: the user's cached candidate lists are dropped and the
// event is folded into the trending accumulator. Requests that race
// ahead of this consumer are covered by the generation check, which
// serves them soft-stale in the meantime.
type Invalidator struct {
	bus      *Bus
	cache    *featurecache.Cache
	trending trendingSink
}

// NewInvalidator wires the consumer. trending may be nil in tests.
func NewInvalidator(bus *Bus, cache *featurecache.Cache, trending trendingSink) *Invalidator {
	return &Invalidator{bus: bus, cache: cache, trending: trending}
}

// Run consumes until ctx is canceled or the bus closes. Malformed
// messages are acked and dropped; the publisher is in-process, so a
// decode failure is a bug, not a retryable condition.
func (inv *Invalidator) Run(ctx context.Context) error {
	msgs, err := inv.bus.SubscribeFeedback(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := DecodeFeedback(msg)
			if err != nil {
				logging.Error().Err(err).Str("message_id", msg.UUID).Msg("Dropping malformed feedback message")
				msg.Ack()
				continue
			}
			inv.handle(ev)
			msg.Ack()
		}
	}
}

func (inv *Invalidator) handle(ev models.FeedbackEvent) {
	if inv.trending != nil {
		inv.trending.Observe(ev)
	}

	// Served events record exposure only; they do not change scores or
	// ranking inputs enough to warrant dropping cached lists.
	if ev.Type == models.EventServed {
		return
	}

	dropped := inv.cache.Invalidate(ev.UserID)
	metrics.InvalidationsProcessed.Inc()
	if dropped > 0 {
		logging.Debug().
			Str("user_id", ev.UserID).
			Int("entries", dropped).
			Msg("Cache invalidated after feedback")
	}
}

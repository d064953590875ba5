// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package events carries accepted feedback from the store to the
// serving side over an in-process Watermill Pub/Sub: the trending
// accumulator and the cache invalidator subscribe, the feedback
// ingestion path publishes. Publishing is fire-and-forget relative to
// the write acknowledgement.
package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/jcastaner/recserve/internal/metrics"
	"github.com/jcastaner/recserve/internal/models"
)

// TopicFeedback carries models.FeedbackEvent payloads.
const TopicFeedback = "feedback.recorded"

// Bus wraps the in-process Pub/Sub.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the bus. Subscribers get a buffered channel so a slow
// consumer does not stall feedback acknowledgement.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, newWatermillLogger()),
	}
}

// PublishFeedback emits one accepted feedback event.
func (b *Bus) PublishFeedback(ev models.FeedbackEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal feedback event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.pubsub.Publish(TopicFeedback, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", TopicFeedback, err)
	}
	metrics.EventsPublished.WithLabelValues(TopicFeedback).Inc()
	return nil
}

// SubscribeFeedback returns the feedback message stream. The channel
// closes when ctx is canceled or the bus shuts down.
func (b *Bus) SubscribeFeedback(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, TopicFeedback)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", TopicFeedback, err)
	}
	return ch, nil
}

// Close shuts the Pub/Sub down, closing all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// DecodeFeedback unmarshals a bus message payload.
func DecodeFeedback(msg *message.Message) (models.FeedbackEvent, error) {
	var ev models.FeedbackEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return models.FeedbackEvent{}, fmt.Errorf("decode feedback message %s: %w", msg.UUID, err)
	}
	return ev, nil
}

var _ watermill.LoggerAdapter = (*watermillLogger)(nil)

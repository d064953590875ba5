// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package recommend builds ranked candidate lists: personalized scores
// from the external model, blended with the decayed trending snapshot,
// filtered against availability and the user's seen-set.
package recommend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/metrics"
)

// Model scores candidate items for a user. Implementations must honor
// ctx cancellation; the aggregator imposes a hard deadline and treats
// any failure as an empty personalized list.
type Model interface {
	Score(ctx context.Context, userID string, rctx map[string]string) (map[string]float64, error)
}

// ErrModelUnavailable wraps rejections from the open circuit breaker.
var ErrModelUnavailable = errors.New("recommendation model unavailable")

type scoreRequest struct {
	UserID  string            `json:"user_id"`
	Context map[string]string `json:"context,omitempty"`
}

type scoreResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// HTTPModel calls an external scoring service over HTTP, protected by
// a circuit breaker so a dead model stops consuming the per-request
// timeout budget.
//
// Breaker policy: max 3 probes in half-open, counts reset every
// minute, open for 2 minutes, trips at a 60% failure rate over at
// least 10 requests.
type HTTPModel struct {
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker[map[string]float64]
}

// NewHTTPModel creates a model client for url. timeout is the
// transport-level ceiling; per-request deadlines come from ctx.
func NewHTTPModel(url string, timeout time.Duration) *HTTPModel {
	const cbName = "recommendation-model"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[map[string]float64](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening model circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &HTTPModel{
		url:    url,
		client: &http.Client{Timeout: timeout},
		cb:     cb,
	}
}

// Score posts the user and context to the model endpoint and returns
// its item scores.
func (m *HTTPModel) Score(ctx context.Context, userID string, rctx map[string]string) (map[string]float64, error) {
	start := time.Now()

	scores, err := m.cb.Execute(func() (map[string]float64, error) {
		return m.score(ctx, userID, rctx)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.ObserveModelRequest("rejected", start)
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		case errors.Is(err, context.DeadlineExceeded):
			metrics.ObserveModelRequest("timeout", start)
			return nil, err
		default:
			metrics.ObserveModelRequest("error", start)
			return nil, err
		}
	}
	metrics.ObserveModelRequest("ok", start)
	return scores, nil
}

func (m *HTTPModel) score(ctx context.Context, userID string, rctx map[string]string) (map[string]float64, error) {
	body, err := json.Marshal(scoreRequest{UserID: userID, Context: rctx})
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model returned status %d", resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	return sr.Scores, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

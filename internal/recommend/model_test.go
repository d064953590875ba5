// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package recommend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestHTTPModelScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.UserID != "u1" {
			t.Errorf("user_id = %s, want u1", req.UserID)
		}
		if req.Context["locale"] != "de" {
			t.Errorf("context not forwarded: %v", req.Context)
		}
		_ = json.NewEncoder(w).Encode(scoreResponse{Scores: map[string]float64{"i1": 0.9, "i2": 0.4}})
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL, time.Second)
	scores, err := m.Score(context.Background(), "u1", map[string]string{"locale": "de"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if scores["i1"] != 0.9 || scores["i2"] != 0.4 {
		t.Errorf("scores = %v", scores)
	}
}

func TestHTTPModelNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL, time.Second)
	if _, err := m.Score(context.Background(), "u1", nil); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestHTTPModelHonorsContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	m := NewHTTPModel(srv.URL, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Score(ctx, "u1", nil)
	if err == nil {
		t.Fatal("expected deadline error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Score blocked %s past its deadline", elapsed)
	}
}

func TestHTTPModelBreakerOpensOnFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL, time.Second)
	for i := 0; i < 12; i++ {
		_, _ = m.Score(context.Background(), "u1", nil)
	}

	_, err := m.Score(context.Background(), "u1", nil)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("breaker should be open after sustained failures, got %v", err)
	}
}

// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcastaner/recserve/internal/catalog"
	"github.com/jcastaner/recserve/internal/feedback"
	"github.com/jcastaner/recserve/internal/models"
	"github.com/jcastaner/recserve/internal/recommend"
)

type mockServer struct {
	listenErr    error
	shutdownDone atomic.Bool
	release      chan struct{}
}

func newMockServer(listenErr error) *mockServer {
	return &mockServer{listenErr: listenErr, release: make(chan struct{})}
}

func (m *mockServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.release
	return http.ErrServerClosed
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.shutdownDone.Store(true)
	close(m.release)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	srv := newMockServer(nil)
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	if !srv.shutdownDone.Load() {
		t.Error("Shutdown was not called")
	}
}

func TestHTTPServerServiceStartupFailure(t *testing.T) {
	srv := newMockServer(errors.New("bind: address already in use"))
	svc := NewHTTPServerService(srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("Serve should surface the listen error")
	}
}

func TestTrendingServiceRebuildsFromLog(t *testing.T) {
	storeCfg := feedback.DefaultConfig(t.TempDir())
	storeCfg.SyncWrites = false
	store, err := feedback.Open(storeCfg)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	reg, err := catalog.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	for _, id := range []string{"item1", "item2"} {
		if err := reg.RegisterItem(context.Background(), models.Item{ID: id, Available: true}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Record(context.Background(), models.FeedbackEvent{
			UserID: "alice", ItemID: "item1", Type: models.EventPurchase,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Record(context.Background(), models.FeedbackEvent{
		UserID: "bob", ItemID: "item2", Type: models.EventView,
	}); err != nil {
		t.Fatal(err)
	}

	trending := recommend.NewTrending(recommend.TrendingConfig{
		HalfLife: 24 * time.Hour,
		Window:   7 * 24 * time.Hour,
		Size:     10,
	}, reg)

	svc := NewTrendingService(store, trending, time.Hour, 7*24*time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = svc.Serve(ctx)

	snap := trending.Snapshot()
	if len(snap.Global) != 2 {
		t.Fatalf("snapshot has %d items, want 2", len(snap.Global))
	}
	if snap.Global[0].ItemID != "item1" {
		t.Errorf("top item = %s, want item1 (three purchases beat one view)", snap.Global[0].ItemID)
	}
}

type fakeSource struct {
	items []models.Item
}

func (f *fakeSource) FetchItems(ctx context.Context) ([]models.Item, error) {
	return f.items, nil
}

func TestCatalogSyncServiceReconciles(t *testing.T) {
	reg, err := catalog.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	if err := reg.RegisterItem(context.Background(), models.Item{ID: "stale", Available: true}); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{items: []models.Item{{ID: "fresh", Available: true}}}
	svc := NewCatalogSyncService(reg, src, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = svc.Serve(ctx)

	if !reg.Available("fresh") {
		t.Error("synced item should be available")
	}
	if reg.Available("stale") {
		t.Error("item absent from the source should be retired")
	}
}

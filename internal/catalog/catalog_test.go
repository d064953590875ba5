// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/jcastaner/recserve/internal/models"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegisterAndGet(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	if err := r.RegisterUser(ctx, models.User{ID: "u1", Labels: map[string]string{"cohort": "beta"}}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if err := r.RegisterItem(ctx, models.Item{ID: "i1", Category: "books", Available: true}); err != nil {
		t.Fatalf("RegisterItem: %v", err)
	}

	u, err := r.GetUser("u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Labels["cohort"] != "beta" {
		t.Errorf("labels not preserved: %+v", u.Labels)
	}
	if u.CreatedAt.IsZero() {
		t.Error("CreatedAt should be assigned on registration")
	}

	if !r.HasUser("u1") || r.HasUser("u2") {
		t.Error("HasUser membership wrong")
	}
	if !r.Available("i1") {
		t.Error("registered item should be available")
	}
	if _, err := r.GetItem("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestSetAvailability(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	if err := r.RegisterItem(ctx, models.Item{ID: "i1", Available: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.SetAvailability(ctx, "i1", false); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	if r.Available("i1") {
		t.Error("item should be unavailable after update")
	}
	if err := r.SetAvailability(ctx, "ghost", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound for unknown item, got %v", err)
	}
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterUser(ctx, models.User{ID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterItem(ctx, models.Item{ID: "i1", Category: "books", Available: true}); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	r2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r2.Close()

	if !r2.HasUser("u1") {
		t.Error("user lost across reopen")
	}
	it, err := r2.GetItem("i1")
	if err != nil {
		t.Fatalf("GetItem after reopen: %v", err)
	}
	if it.Category != "books" || !it.Available {
		t.Errorf("item fields lost across reopen: %+v", it)
	}
}

type fakeSource struct {
	items []models.Item
	err   error
}

func (f *fakeSource) FetchItems(context.Context) ([]models.Item, error) {
	return f.items, f.err
}

func TestSyncRetiresMissingItems(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"keep", "gone"} {
		if err := r.RegisterItem(ctx, models.Item{ID: id, Available: true}); err != nil {
			t.Fatal(err)
		}
	}

	src := &fakeSource{items: []models.Item{
		{ID: "keep", Available: true},
		{ID: "fresh", Available: true},
	}}
	if err := r.Sync(ctx, src); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if !r.Available("keep") || !r.Available("fresh") {
		t.Error("sourced items should be available")
	}
	if r.Available("gone") {
		t.Error("item absent from source should be retired")
	}
	if _, err := r.GetItem("gone"); err != nil {
		t.Errorf("retired item should remain resolvable, got %v", err)
	}
}

func TestSyncSourceError(t *testing.T) {
	r := testRegistry(t)
	src := &fakeSource{err: errors.New("upstream down")}
	if err := r.Sync(context.Background(), src); err == nil {
		t.Error("expected error from failing source")
	}
}

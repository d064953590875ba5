// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package services

import (
	"context"
	"time"

	"github.com/jcastaner/recserve/internal/catalog"
	"github.com/jcastaner/recserve/internal/logging"
)

// CatalogSyncService polls an external catalog source and reconciles
// item availability. Sync failures are logged and retried on the next
// tick rather than crashing the service; the catalog keeps serving its
// last known state in between.
type CatalogSyncService struct {
	registry *catalog.Registry
	source   catalog.Source
	interval time.Duration
}

// NewCatalogSyncService creates the sync loop.
func NewCatalogSyncService(registry *catalog.Registry, source catalog.Source, interval time.Duration) *CatalogSyncService {
	return &CatalogSyncService{
		registry: registry,
		source:   source,
		interval: interval,
	}
}

// Serve implements suture.Service.
func (s *CatalogSyncService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.registry.Sync(ctx, s.source); err != nil {
				logging.Warn().Err(err).Msg("Catalog sync failed, keeping previous state")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor log messages.
func (s *CatalogSyncService) String() string {
	return "catalog-sync"
}

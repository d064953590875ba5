// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package services

import (
	"context"

	"github.com/jcastaner/recserve/internal/events"
)

// InvalidatorService runs the feedback-event consumer that applies
// cache invalidations and live trending updates.
type InvalidatorService struct {
	inv *events.Invalidator
}

// NewInvalidatorService wraps the invalidator as a supervised service.
func NewInvalidatorService(inv *events.Invalidator) *InvalidatorService {
	return &InvalidatorService{inv: inv}
}

// Serve implements suture.Service. Run blocks until the context is
// canceled or the bus subscription fails; either way the supervisor
// decides whether to restart.
func (s *InvalidatorService) Serve(ctx context.Context) error {
	return s.inv.Run(ctx)
}

// String implements fmt.Stringer for supervisor log messages.
func (s *InvalidatorService) String() string {
	return "cache-invalidator"
}

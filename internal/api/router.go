// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires handlers and middleware into the HTTP route tree.
type Router struct {
	handler *Handler
	mw      *Middleware
}

// NewRouter creates the router over the given handler set.
func NewRouter(handler *Handler, mw *Middleware) *Router {
	return &Router{handler: handler, mw: mw}
}

// Setup configures all HTTP routes.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route.
	r.Use(RequestID())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(rt.mw.CORS())

	// Health endpoints stay outside the rate limiter so probes cannot
	// be starved by API traffic from the same address.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(Instrument())
		r.Get("/live", rt.handler.HealthLive)
		r.Get("/ready", rt.handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.mw.RateLimit())
		r.Use(Instrument())

		r.Post("/feedback", rt.handler.RecordFeedback)
		r.Post("/users", rt.handler.CreateUser)
		r.Get("/users/{userID}", rt.handler.GetUser)
		r.Post("/items", rt.handler.CreateItem)

		r.Get("/recommend/{userID}", rt.handler.Recommend)
		r.Get("/trending", rt.handler.Trending)
		r.Get("/stats", rt.handler.Stats)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

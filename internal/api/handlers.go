// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package api implements Recserve's HTTP surface: feedback ingest,
// recommendation serving, catalog registration, trending, stats and
// health, all responding in the standard envelope.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/models"
	"github.com/jcastaner/recserve/internal/service"
)

// Handler holds dependencies for all HTTP handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates the handler set over the recommendation service.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

type feedbackRequest struct {
	UserID    string            `json:"user_id" validate:"required,max=256,excludes=:"`
	ItemID    string            `json:"item_id" validate:"required,max=256"`
	EventType string            `json:"event_type" validate:"required,event_type"`
	Context   map[string]string `json:"context"`
}

type userRequest struct {
	UserID string            `json:"user_id" validate:"required,max=256,excludes=:"`
	Labels map[string]string `json:"labels"`
}

type itemRequest struct {
	ItemID    string `json:"item_id" validate:"required,max=256"`
	Category  string `json:"category" validate:"max=128"`
	Available *bool  `json:"available"`
}

type recommendParams struct {
	K     int     `validate:"gte=0"`
	Page  int     `validate:"gte=0"`
	Limit int     `validate:"gte=0"`
	Ratio float64 `validate:"gte=0,lte=1"`
}

// RecordFeedback handles POST /api/v1/feedback. The event is durably
// appended before the 202 is returned; cache invalidation and trending
// updates happen asynchronously behind the bus.
func (h *Handler) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusUnprocessableEntity, models.ErrCodeValidation, err.Error(), nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondJSON(w, r, http.StatusUnprocessableEntity, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}

	stored, err := h.svc.RecordFeedback(r.Context(), models.FeedbackEvent{
		UserID:  req.UserID,
		ItemID:  req.ItemID,
		Type:    models.EventType(req.EventType),
		Context: req.Context,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	logging.Debug().
		Str("user_id", sanitizeLogValue(stored.UserID)).
		Str("item_id", sanitizeLogValue(stored.ItemID)).
		Str("event_type", string(stored.Type)).
		Msg("Feedback recorded")

	respondJSON(w, r, http.StatusAccepted, &models.APIResponse{
		Status:   "success",
		Data:     stored,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// Recommend handles GET /api/v1/recommend/{userID}. Query parameters:
// k, page, limit, ratio, variant, plus the recognized context tags
// (locale, cohort, surface, session).
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, r, http.StatusUnprocessableEntity, models.ErrCodeValidation, "user ID is required", nil)
		return
	}

	req := service.RecommendRequest{
		UserID:  userID,
		Context: contextFromQuery(r),
		K:       getIntParam(r, "k", 0),
		Variant: r.URL.Query().Get("variant"),
		Page:    getIntParam(r, "page", 0),
		Limit:   getIntParam(r, "limit", 0),
	}
	params := recommendParams{K: req.K, Page: req.Page, Limit: req.Limit}
	if ratio, ok := getFloatParam(r, "ratio"); ok {
		req.Ratio = &ratio
		params.Ratio = ratio
	}
	if apiErr := validateRequest(&params); apiErr != nil {
		respondJSON(w, r, http.StatusUnprocessableEntity, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}

	start := time.Now()
	result, err := h.svc.Recommend(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"user_id":  userID,
			"items":    result.Items,
			"page":     result.Page,
			"fallback": result.Fallback,
		},
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
			Cached:      result.Cached,
		},
	})
}

// Trending handles GET /api/v1/trending?category=&page=&limit=.
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	items, pageInfo, err := h.svc.TrendingPage(category,
		getIntParam(r, "page", 0), getIntParam(r, "limit", 0))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"category": category,
			"items":    items,
			"page":     pageInfo,
		},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// CreateUser handles POST /api/v1/users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusUnprocessableEntity, models.ErrCodeValidation, err.Error(), nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondJSON(w, r, http.StatusUnprocessableEntity, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}

	user := models.User{ID: req.UserID, Labels: req.Labels}
	if err := h.svc.RegisterUser(r.Context(), user); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, &models.APIResponse{
		Status:   "success",
		Data:     user,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// GetUser handles GET /api/v1/users/{userID}. Covers both explicitly
// registered users and users created implicitly by their first
// feedback event.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, r, http.StatusUnprocessableEntity, models.ErrCodeValidation, "user ID is required", nil)
		return
	}
	user, err := h.svc.GetUser(userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     user,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// CreateItem handles POST /api/v1/items. Items default to available
// unless the request says otherwise.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, r, http.StatusUnprocessableEntity, models.ErrCodeValidation, err.Error(), nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondJSON(w, r, http.StatusUnprocessableEntity, &models.APIResponse{
			Status:   "error",
			Metadata: models.Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}

	available := true
	if req.Available != nil {
		available = *req.Available
	}
	item := models.Item{ID: req.ItemID, Category: req.Category, Available: available}
	if err := h.svc.RegisterItem(r.Context(), item); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, &models.APIResponse{
		Status:   "success",
		Data:     item,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// Stats handles GET /api/v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     stats,
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthLive handles GET /api/v1/health/live. Returns 200 whenever the
// process is up and serving.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"status": "alive"},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// HealthReady handles GET /api/v1/health/ready. Readiness requires the
// local stores to answer; the recommendation model is optional and
// never gates readiness.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Stats(r.Context()); err != nil {
		respondError(w, r, http.StatusServiceUnavailable, models.ErrCodeStoreUnavailable, "stores not ready", err)
		return
	}
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     map[string]string{"status": "ready"},
		Metadata: models.Metadata{Timestamp: time.Now()},
	})
}

// contextFromQuery collects the recognized context tag keys from the
// query string. Unknown keys are ignored.
func contextFromQuery(r *http.Request) map[string]string {
	tags := make(map[string]string, len(models.RecognizedContextKeys))
	for _, key := range models.RecognizedContextKeys {
		if v := r.URL.Query().Get(key); v != "" {
			tags[key] = v
		}
	}
	return models.FilterContext(tags)
}

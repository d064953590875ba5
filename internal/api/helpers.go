// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jcastaner/recserve/internal/logging"
	"github.com/jcastaner/recserve/internal/models"
	"github.com/jcastaner/recserve/internal/service"
	"github.com/jcastaner/recserve/internal/validation"
)

// sanitizeLogValue removes control characters from strings to prevent
// log injection. Client-supplied identifiers pass through here before
// they reach a log line.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Vary", "Accept-Encoding")

	if response.Metadata.RequestID == "" {
		response.Metadata.RequestID = requestIDFrom(r)
	}

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", generateETag(data))

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// generateETag creates a simple ETag from data using FNV-1a hash.
func generateETag(data []byte) string {
	hash := uint32(2166136261)
	for _, b := range data {
		hash ^= uint32(b)
		hash *= 16777619
	}
	return strconv.FormatUint(uint64(hash), 16)
}

// respondError sends an error response in the standard envelope.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", sanitizeLogValue(code)).Str("error", sanitizeLogValue(err.Error())).Msg("API error")
	}

	respondJSON(w, r, status, &models.APIResponse{
		Status: "error",
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	})
}

// statusClientClosedRequest is the nginx convention for requests the
// client abandoned before a response was written.
const statusClientClosedRequest = 499

// respondServiceError maps the service error taxonomy onto HTTP status
// codes and envelope error codes. Validation failures are request
// defects (422), missing resources 404, failed local stores 503,
// client aborts 499, and anything else an internal error.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	var uerr *service.UnavailableError
	switch {
	case errors.As(err, &verr):
		respondError(w, r, http.StatusUnprocessableEntity, models.ErrCodeValidation, verr.Error(), nil)
	case service.IsValidation(err):
		respondError(w, r, http.StatusUnprocessableEntity, models.ErrCodeValidation, err.Error(), nil)
	case service.IsNotFound(err):
		respondError(w, r, http.StatusNotFound, models.ErrCodeNotFound, err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, statusClientClosedRequest, models.ErrCodeRequestCancelled, "request cancelled", nil)
	case errors.As(err, &uerr):
		respondError(w, r, http.StatusServiceUnavailable, models.ErrCodeStoreUnavailable, "a required store is unavailable", err)
	default:
		respondError(w, r, http.StatusInternalServerError, models.ErrCodeInternal, "internal error", err)
	}
}

// validateRequest validates a struct using go-playground/validator.
// Returns nil if validation passes, or a models.APIError otherwise.
func validateRequest(v interface{}) *models.APIError {
	err := validation.Struct(v)
	if err == nil {
		return nil
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		return &models.APIError{
			Code:    models.ErrCodeValidation,
			Message: verr.Message,
			Details: map[string]interface{}{"field": verr.Field},
		}
	}
	return &models.APIError{Code: models.ErrCodeValidation, Message: err.Error()}
}

// getIntParam extracts an integer query parameter with a default value.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getFloatParam extracts a float query parameter. The second return is
// false when the parameter is absent or malformed.
func getFloatParam(r *http.Request, key string) (float64, bool) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// decodeBody decodes a JSON request body into dst, rejecting unknown
// fields so typos surface as 422s instead of silently dropped input.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}

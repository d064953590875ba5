// Recserve - Self-Hosted Recommendation Serving Core
// Copyright 2026 J. Castaner (jcastaner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcastaner/recserve

// Package validation provides a process-wide validator instance with
// Recserve-specific rules registered.
package validation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/jcastaner/recserve/internal/models"
)

var (
	instance *validator.Validate
	once     sync.Once
)

// Get returns the shared validator. Custom rules:
//
//	event_type - value is one of the externally accepted feedback
//	             event types (view, like, dislike, purchase).
func Get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())

		//nolint:errcheck // registration only fails on empty tag names
		instance.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
			return models.EventType(fl.Field().String()).Valid()
		})
	})
	return instance
}

// Error describes a rejected input. It maps to HTTP 422.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// Struct validates s and converts the first violation to an *Error,
// suitable for direct use in API responses.
func Struct(s any) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !isValidationErrors(err, &verrs) || len(verrs) == 0 {
		return &Error{Field: "request", Message: err.Error()}
	}
	fe := verrs[0]
	return &Error{
		Field:   strings.ToLower(fe.Field()),
		Message: describe(fe),
	}
}

func isValidationErrors(err error, out *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*out = verrs
	}
	return ok
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "event_type":
		return fmt.Sprintf("%q is not a recognized event type", fe.Value())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s constraint", fe.Tag())
	}
}

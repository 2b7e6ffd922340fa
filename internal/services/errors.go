package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Custom error types

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }

// FeatureDisabledError is returned by optional integrations that were not configured.
type FeatureDisabledError struct{ Feature string }

func (e *FeatureDisabledError) Error() string {
	return fmt.Sprintf("%s is not enabled on this server", e.Feature)
}

// UpstreamError describes a failed exh.ai call. Status is 0 for transport
// failures and timeouts.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return "exh.ai request failed: " + e.Message
	}
	return fmt.Sprintf("exh.ai returned %d: %s", e.Status, e.Message)
}

// IsRetryable reports whether the same request may succeed later.
func (e *UpstreamError) IsRetryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsRetryable reports whether err is worth another attempt. Errors that are not
// upstream errors (database hiccups, decode failures of partial bodies) are retried.
func IsRetryable(err error) bool {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.IsRetryable()
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return false
	}
	var nfErr *NotFoundError
	return !errors.As(err, &nfErr)
}

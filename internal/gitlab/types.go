// Package gitlab provides a client for the GitLab REST and GraphQL APIs.
// This package centralizes all remote service interactions for the
// application: pipeline resolution, job listing, job mutations (play,
// retry, cancel) and log traces.
package gitlab

import (
	"fmt"
	"time"
)

// APIError represents an error response from the GitLab API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitLab API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimitError represents a local rate limiter failure, usually because
// the context was cancelled while waiting for a request slot.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitLab rate limit exceeded, retry after %v", e.RetryAfter)
}

// NotFoundError reports a missing remote entity (project, pipeline, job).
type NotFoundError struct {
	Kind string
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("GitLab %s not found: %s", e.Kind, e.Ref)
}

package core

import "errors"

// Sentinel errors shared across packages
var (
	// ErrNoProvider indicates no reasoning provider is configured
	ErrNoProvider = errors.New("no reasoning provider configured")

	// ErrBreakerOpen indicates the selection circuit breaker has tripped
	ErrBreakerOpen = errors.New("selection breaker open")

	// ErrInvalidResponse indicates a provider response failed validation
	ErrInvalidResponse = errors.New("invalid provider response")

	// ErrNotFound indicates a requested record does not exist
	ErrNotFound = errors.New("not found")
)

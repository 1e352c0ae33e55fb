package ratelimiter

import "errors"

// Package-level error definitions for rate limiter operations.
var (
	ErrInvalidPolicy    = errors.New("invalid policy configuration")
	ErrStoreUnavailable = errors.New("store unavailable")
)

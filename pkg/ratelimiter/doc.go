// Package ratelimiter provides sliding-window rate limiting keyed by
// (policy, identifier) pairs.
//
// A policy names a budget: at most Limit requests within a trailing Window.
// Each call to Allow prunes timestamps older than the window, admits the
// request if the remaining count is under the limit, and records the
// request only when admitted. The first request for a never-seen
// identifier therefore always succeeds.
//
// Policies are independent: the same phone number can be inside its
// general API budget while its OTP request budget is exhausted.
//
// Basic usage:
//
//	store := ratelimiter.NewMemoryStore()
//	limiter := ratelimiter.NewLimiter(store, ratelimiter.DefaultPolicies())
//
//	result, err := limiter.Allow(ctx, ratelimiter.PolicyGeneralAPI, "+254712345678")
//	if err != nil {
//		// store failure, fail open or closed per caller policy
//	}
//	if !result.Allowed {
//		// tell the user to retry after result.RetryAfter
//	}
//
// Denials are counted and logged but never returned as errors; the caller
// decides the user-facing behavior.
//
// The memory store prunes lazily on access and additionally runs a
// periodic cleanup goroutine that drops windows idle for over an hour.
// Start the cleanup with Run(ctx) inside an errgroup, or Start/Stop
// directly.
package ratelimiter

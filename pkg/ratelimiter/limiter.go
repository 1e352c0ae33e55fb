package ratelimiter

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Well-known policy names used across the engine.
const (
	PolicyAuthentication = "authentication"
	PolicyOTPRequest     = "otp_request"
	PolicyGeneralAPI     = "general_api"
)

// Policy describes a sliding-window budget: at most Limit requests within
// a trailing Window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	if p.Name == "" || p.Limit <= 0 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// DefaultPolicies returns the engine's standard budgets.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: PolicyAuthentication, Limit: 5, Window: 5 * time.Minute},
		{Name: PolicyOTPRequest, Limit: 3, Window: 10 * time.Minute},
		{Name: PolicyGeneralAPI, Limit: 100, Window: time.Minute},
	}
}

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest recorded request ages out
	// of the window. Zero when the request was allowed.
	RetryAfter time.Duration
}

// Store persists request windows. Implementations must be safe for
// concurrent use.
type Store interface {
	// Take prunes entries older than the policy window, then records the
	// request if the remaining count is under the limit. It reports
	// whether the request was admitted, how much budget remains, and the
	// retry delay on denial.
	Take(ctx context.Context, key string, policy Policy, now time.Time) (allowed bool, remaining int, retryAfter time.Duration, err error)

	// Reset discards the window for a key.
	Reset(ctx context.Context, key string) error
}

// Limiter checks requests against named policies.
type Limiter struct {
	store    Store
	policies map[string]Policy
	logger   *slog.Logger
	now      func() time.Time

	allowed atomic.Int64
	denied  atomic.Int64
}

// LimiterStats provides observability counters.
type LimiterStats struct {
	Allowed int64
	Denied  int64
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLogger sets the logger for denial events.
func WithLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLimiter creates a limiter over the given store and policies.
// Policies that fail validation are skipped.
func NewLimiter(store Store, policies []Policy, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:    store,
		policies: make(map[string]Policy, len(policies)),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}

	for _, p := range policies {
		if p.Validate() == nil {
			l.policies[p.Name] = p
		}
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow checks one request for identifier against the named policy.
// Unknown policy names admit the request so a misconfigured policy name
// degrades to no limiting rather than a hard outage.
func (l *Limiter) Allow(ctx context.Context, policyName, identifier string) (*Result, error) {
	policy, ok := l.policies[policyName]
	if !ok {
		l.allowed.Add(1)
		return &Result{Allowed: true}, nil
	}

	key := policyName + ":" + identifier
	allowed, remaining, retryAfter, err := l.store.Take(ctx, key, policy, l.now())
	if err != nil {
		return nil, err
	}

	if allowed {
		l.allowed.Add(1)
	} else {
		l.denied.Add(1)
		l.logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("policy", policyName),
			slog.Duration("retry_after", retryAfter))
	}

	return &Result{
		Allowed:    allowed,
		Limit:      policy.Limit,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}, nil
}

// Reset clears the window for a (policy, identifier) pair. Administrative
// override, e.g. after a support interaction.
func (l *Limiter) Reset(ctx context.Context, policyName, identifier string) error {
	return l.store.Reset(ctx, policyName+":"+identifier)
}

// Stats returns cumulative allow/deny counters.
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		Allowed: l.allowed.Load(),
		Denied:  l.denied.Load(),
	}
}

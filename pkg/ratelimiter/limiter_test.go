package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okoalabs/pesabot/pkg/ratelimiter"
)

func TestLimiter_Allow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("allows exactly limit requests within window", func(t *testing.T) {
		t.Parallel()

		now := time.Now()
		limiter := ratelimiter.NewLimiter(
			ratelimiter.NewMemoryStore(),
			[]ratelimiter.Policy{{Name: "auth", Limit: 5, Window: 5 * time.Minute}},
			ratelimiter.WithClock(func() time.Time { return now }),
		)

		for i := range 5 {
			result, err := limiter.Allow(ctx, "auth", "+254712345678")
			require.NoError(t, err)
			assert.True(t, result.Allowed, "request %d", i)
			assert.Equal(t, 4-i, result.Remaining)
		}

		result, err := limiter.Allow(ctx, "auth", "+254712345678")
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, 5*time.Minute, result.RetryAfter)
	})

	t.Run("budget frees as oldest entry ages out", func(t *testing.T) {
		t.Parallel()

		now := time.Now()
		limiter := ratelimiter.NewLimiter(
			ratelimiter.NewMemoryStore(),
			[]ratelimiter.Policy{{Name: "auth", Limit: 2, Window: time.Minute}},
			ratelimiter.WithClock(func() time.Time { return now }),
		)

		for range 2 {
			_, err := limiter.Allow(ctx, "auth", "user")
			require.NoError(t, err)
		}

		result, err := limiter.Allow(ctx, "auth", "user")
		require.NoError(t, err)
		require.False(t, result.Allowed)

		now = now.Add(time.Minute + time.Second)

		result, err = limiter.Allow(ctx, "auth", "user")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("unknown policy admits", func(t *testing.T) {
		t.Parallel()

		limiter := ratelimiter.NewLimiter(ratelimiter.NewMemoryStore(), ratelimiter.DefaultPolicies())

		result, err := limiter.Allow(ctx, "no-such-policy", "user")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("policies are tracked independently", func(t *testing.T) {
		t.Parallel()

		limiter := ratelimiter.NewLimiter(ratelimiter.NewMemoryStore(), []ratelimiter.Policy{
			{Name: "otp", Limit: 1, Window: time.Hour},
			{Name: "api", Limit: 10, Window: time.Hour},
		})

		_, err := limiter.Allow(ctx, "otp", "user")
		require.NoError(t, err)

		otpResult, err := limiter.Allow(ctx, "otp", "user")
		require.NoError(t, err)
		assert.False(t, otpResult.Allowed)

		apiResult, err := limiter.Allow(ctx, "api", "user")
		require.NoError(t, err)
		assert.True(t, apiResult.Allowed, "exhausted otp budget must not affect api budget")
	})

	t.Run("identifiers are tracked independently", func(t *testing.T) {
		t.Parallel()

		limiter := ratelimiter.NewLimiter(ratelimiter.NewMemoryStore(), []ratelimiter.Policy{
			{Name: "auth", Limit: 1, Window: time.Hour},
		})

		_, err := limiter.Allow(ctx, "auth", "+254712345678")
		require.NoError(t, err)

		result, err := limiter.Allow(ctx, "auth", "+254700000001")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("stats count allows and denials", func(t *testing.T) {
		t.Parallel()

		limiter := ratelimiter.NewLimiter(ratelimiter.NewMemoryStore(), []ratelimiter.Policy{
			{Name: "auth", Limit: 2, Window: time.Hour},
		})

		for range 5 {
			_, err := limiter.Allow(ctx, "auth", "user")
			require.NoError(t, err)
		}

		stats := limiter.Stats()
		assert.Equal(t, int64(2), stats.Allowed)
		assert.Equal(t, int64(3), stats.Denied)
	})
}

func TestLimiter_Reset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := ratelimiter.NewLimiter(ratelimiter.NewMemoryStore(), []ratelimiter.Policy{
		{Name: "auth", Limit: 1, Window: time.Hour},
	})

	_, err := limiter.Allow(ctx, "auth", "user")
	require.NoError(t, err)

	result, err := limiter.Allow(ctx, "auth", "user")
	require.NoError(t, err)
	require.False(t, result.Allowed)

	require.NoError(t, limiter.Reset(ctx, "auth", "user"))

	result, err = limiter.Allow(ctx, "auth", "user")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ratelimiter.Policy{Name: "ok", Limit: 1, Window: time.Second}.Validate())
	assert.ErrorIs(t, ratelimiter.Policy{Limit: 1, Window: time.Second}.Validate(), ratelimiter.ErrInvalidPolicy)
	assert.ErrorIs(t, ratelimiter.Policy{Name: "x", Window: time.Second}.Validate(), ratelimiter.ErrInvalidPolicy)
	assert.ErrorIs(t, ratelimiter.Policy{Name: "x", Limit: 1}.Validate(), ratelimiter.ErrInvalidPolicy)
}

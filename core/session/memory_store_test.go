package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okoalabs/pesabot/core/session"
)

func TestMemoryStore_GetOrCreate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("creates init session for unknown identifier", func(t *testing.T) {
		t.Parallel()
		store := session.NewMemoryStore(session.Config{})

		sess, created, err := store.GetOrCreate(ctx, "+254712345678")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "+254712345678", sess.Identifier)
		assert.Equal(t, session.StateInit, sess.State)
	})

	t.Run("returns existing live session", func(t *testing.T) {
		t.Parallel()
		store := session.NewMemoryStore(session.Config{})

		sess, _, err := store.GetOrCreate(ctx, "+254712345678")
		require.NoError(t, err)
		sess.EnterAwaitingPhone()
		require.NoError(t, store.Save(ctx, sess))

		got, created, err := store.GetOrCreate(ctx, "+254712345678")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, session.StateAwaitingPhone, got.State)
	})

	t.Run("expired session is replaced by a fresh one", func(t *testing.T) {
		t.Parallel()

		now := time.Now()
		clock := &now
		store := session.NewMemoryStore(
			session.Config{TTL: 24 * time.Hour},
			session.WithMemoryStoreClock(func() time.Time { return *clock }),
		)

		sess, _, err := store.GetOrCreate(ctx, "+254712345678")
		require.NoError(t, err)
		sess.EnterAwaitingOtp("+254712345678", now)
		sess.Authenticate("acct-1", "")
		require.NoError(t, store.Save(ctx, sess))

		later := now.Add(25 * time.Hour)
		clock = &later

		got, created, err := store.GetOrCreate(ctx, "+254712345678")
		require.NoError(t, err)
		assert.True(t, created, "idle session past TTL is logically absent")
		assert.Equal(t, session.StateInit, got.State)
		assert.Empty(t, got.AccountID, "prior account link is discarded")
	})
}

func TestMemoryStore_SaveDeletesLoggedOutSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := session.NewMemoryStore(session.Config{})

	sess, _, err := store.GetOrCreate(ctx, "+254712345678")
	require.NoError(t, err)
	sess.Logout()
	require.NoError(t, store.Save(ctx, sess))

	_, created, err := store.GetOrCreate(ctx, "+254712345678")
	require.NoError(t, err)
	assert.True(t, created, "logged-out session must be gone")
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	clock := &now
	store := session.NewMemoryStore(
		session.Config{TTL: time.Hour},
		session.WithMemoryStoreClock(func() time.Time { return *clock }),
	)

	for _, id := range []string{"+254700000001", "+254700000002", "+254700000003"} {
		_, _, err := store.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	// Keep one session fresh past the point where the others expire.
	later := now.Add(30 * time.Minute)
	clock = &later
	sess, _, err := store.GetOrCreate(ctx, "+254700000001")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, sess))

	expiry := now.Add(90 * time.Minute)
	clock = &expiry

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	active, _, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}

func TestMemoryStore_Counts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := session.NewMemoryStore(session.Config{})

	sess, _, err := store.GetOrCreate(ctx, "+254700000001")
	require.NoError(t, err)
	sess.EnterAwaitingOtp("+254700000001", time.Now())
	sess.Authenticate("acct-1", "")
	require.NoError(t, store.Save(ctx, sess))

	_, _, err = store.GetOrCreate(ctx, "+254700000002")
	require.NoError(t, err)

	active, authenticated, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)
	assert.Equal(t, int64(1), authenticated)
}

func TestMemoryStore_SweepLifecycle(t *testing.T) {
	t.Parallel()

	store := session.NewMemoryStore(session.Config{SweepInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- store.Start(ctx) }()

	require.Eventually(t, func() bool {
		return store.Stats().IsRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Healthcheck(context.Background()))
	require.NoError(t, store.Stop())

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Error(t, store.Healthcheck(context.Background()), "sweep no longer running")
}

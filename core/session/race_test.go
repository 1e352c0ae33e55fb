package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okoalabs/pesabot/core/session"
)

// Exercises the sharded store under concurrent access from many
// identifiers plus a competing sweep. Run with -race.
func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping race condition test in short mode")
	}

	t.Parallel()

	ctx := context.Background()
	store := session.NewMemoryStore(session.Config{})

	identifiers := 64
	opsPerIdentifier := 50

	var wg sync.WaitGroup
	wg.Add(identifiers + 1)

	for i := range identifiers {
		go func(n int) {
			defer wg.Done()

			id := fmt.Sprintf("+2547000000%02d", n)
			for range opsPerIdentifier {
				sess, _, err := store.GetOrCreate(ctx, id)
				if err != nil {
					t.Error(err)
					return
				}
				sess.EnterAwaitingPhone()
				sess.Remember("hello")
				if err := store.Save(ctx, sess); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}

	// Sweeps race against the writers above.
	go func() {
		defer wg.Done()
		for range 20 {
			if _, err := store.DeleteExpired(ctx); err != nil {
				t.Error(err)
				return
			}
			if _, _, err := store.Counts(ctx); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	wg.Wait()

	active, _, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(identifiers), active, "nothing was idle long enough to be swept")
}

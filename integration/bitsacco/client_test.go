package bitsacco_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okoalabs/pesabot/integration/bitsacco"
)

func newTestClient(t *testing.T, handler http.Handler) *bitsacco.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := bitsacco.New(bitsacco.Config{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Timeout:    time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := bitsacco.New(bitsacco.Config{APIKey: "key"})
	assert.ErrorIs(t, err, bitsacco.ErrInvalidConfig)

	_, err = bitsacco.New(bitsacco.Config{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, bitsacco.ErrInvalidConfig)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"btc_balance": 0.5, "kes_balance": 1000.0})
	}))

	balance, err := client.GetBalance(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "two 500s then success")
	assert.Equal(t, 0.5, balance.BTC)
	assert.Equal(t, 1000.0, balance.KES)
}

func TestClient_ExhaustedRetriesReturnTransientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.GetBalance(context.Background(), "acct-1")

	var transient *bitsacco.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 4, transient.Attempts, "initial attempt plus three retries")
	assert.Equal(t, int32(4), calls.Load())
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetBalance(context.Background(), "missing")
	assert.ErrorIs(t, err, bitsacco.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load(), "404 is terminal")
}

func TestClient_AuthFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.GetBalance(context.Background(), "acct-1")
	assert.ErrorIs(t, err, bitsacco.ErrAuth)
	assert.Equal(t, int32(1), calls.Load(), "401 is terminal")
}

func TestClient_OtherClientErrorsAreTerminal(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	_, err := client.SendOTP(context.Background(), "+254712345678")

	var clientErr *bitsacco.ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusUnprocessableEntity, clientErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_IdempotencyKeyStableAcrossRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	keys := make(chan string, 4)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"transaction_id": "tx-1", "status": "pending"})
	}))

	intent, err := client.InitiateSavings(context.Background(), "+254712345678", 1000)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", intent.TransactionID)

	close(keys)
	first := <-keys
	require.NotEmpty(t, first, "side-effecting POST carries an idempotency key")
	for key := range keys {
		assert.Equal(t, first, key, "retries must replay the same key")
	}
}

func TestClient_LookupUser(t *testing.T) {
	t.Parallel()

	t.Run("known user", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "acct-7", "name": "Wanjiku Kamau"})
		}))

		user, err := client.LookupUser(context.Background(), "+254712345678")
		require.NoError(t, err)
		assert.True(t, user.Found)
		assert.Equal(t, "acct-7", user.AccountID)
		assert.Equal(t, "Wanjiku", user.FirstName)
	})

	t.Run("unknown user maps 404 to not found result", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		user, err := client.LookupUser(context.Background(), "+254700000000")
		require.NoError(t, err, "unknown user is an expected outcome")
		assert.False(t, user.Found)
	})
}

func TestClient_VerifyOTP(t *testing.T) {
	t.Parallel()

	t.Run("valid code", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "123456", req["otp_code"])
			_ = json.NewEncoder(w).Encode(map[string]any{"valid": true, "user_id": "acct-7"})
		}))

		result, err := client.VerifyOTP(context.Background(), "+254712345678", "123456")
		require.NoError(t, err)
		assert.True(t, result.OK)
		assert.Equal(t, "acct-7", result.AccountID)
	})

	t.Run("wrong code is an outcome, not an error", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"valid": false})
		}))

		result, err := client.VerifyOTP(context.Background(), "+254712345678", "000000")
		require.NoError(t, err)
		assert.False(t, result.OK)
	})
}

func TestClient_GetHistory(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transactions": []map[string]any{
				{"type": "deposit", "amount": 1000.0, "currency": "KES", "status": "completed", "date": "2026-08-01T10:00:00Z"},
			},
		})
	}))

	history, err := client.GetHistory(context.Background(), "acct-7", 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "deposit", history[0].Type)
}

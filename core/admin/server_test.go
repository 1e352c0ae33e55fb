package admin_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okoalabs/pesabot/core/admin"
	"github.com/okoalabs/pesabot/core/dispatch"
)

type fakeEngine struct {
	health    dispatch.Health
	healthErr error
	stats     dispatch.Stats
	removed   []string
	removeErr error
}

func (f *fakeEngine) Health(context.Context) (dispatch.Health, error) {
	return f.health, f.healthErr
}

func (f *fakeEngine) Stats() dispatch.Stats {
	return f.stats
}

func (f *fakeEngine) RemoveSession(_ context.Context, identifier string) error {
	f.removed = append(f.removed, identifier)
	return f.removeErr
}

func newTestServer(engine *fakeEngine, token string) http.Handler {
	return admin.NewServer(admin.Config{Token: token}, engine).Handler()
}

func TestServer_Liveness(t *testing.T) {
	t.Parallel()

	handler := newTestServer(&fakeEngine{}, "secret")

	// The probe never requires a token.
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readiness(t *testing.T) {
	t.Parallel()

	t.Run("ready when all probes pass", func(t *testing.T) {
		t.Parallel()

		handler := admin.NewServer(admin.Config{}, &fakeEngine{},
			admin.WithReadinessChecks(
				func(context.Context) error { return nil },
				func(context.Context) error { return nil },
			),
		).Handler()

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
	})

	t.Run("unavailable when a probe fails", func(t *testing.T) {
		t.Parallel()

		handler := admin.NewServer(admin.Config{}, &fakeEngine{},
			admin.WithReadinessChecks(
				func(context.Context) error { return nil },
				func(context.Context) error { return errors.New("redis down") },
			),
		).Handler()

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	t.Run("returns engine health and counters", func(t *testing.T) {
		t.Parallel()

		engine := &fakeEngine{
			health: dispatch.Health{ActiveSessions: 12, AuthenticatedSessions: 7, IsRunning: true},
			stats:  dispatch.Stats{MessagesReceived: 100, MessagesProcessed: 90, MessagesDuplicate: 8, MessagesLimited: 2},
		}
		handler := newTestServer(engine, "")

		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, float64(12), body["active_sessions"])
		assert.Equal(t, float64(7), body["authenticated_sessions"])
		assert.Equal(t, true, body["is_running"])
		messages := body["messages"].(map[string]any)
		assert.Equal(t, float64(90), messages["processed"])
	})

	t.Run("rejects a missing token", func(t *testing.T) {
		t.Parallel()

		handler := newTestServer(&fakeEngine{}, "secret")

		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("accepts the bearer token", func(t *testing.T) {
		t.Parallel()

		handler := newTestServer(&fakeEngine{}, "secret")

		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("reports unavailable on health failure", func(t *testing.T) {
		t.Parallel()

		handler := newTestServer(&fakeEngine{healthErr: errors.New("store down")}, "")

		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestServer_RemoveSession(t *testing.T) {
	t.Parallel()

	t.Run("removes the identified session", func(t *testing.T) {
		t.Parallel()

		engine := &fakeEngine{}
		handler := newTestServer(engine, "")

		req := httptest.NewRequest(http.MethodDelete, "/sessions/+254712345678", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"+254712345678"}, engine.removed)
	})

	t.Run("surfaces removal failures", func(t *testing.T) {
		t.Parallel()

		engine := &fakeEngine{removeErr: errors.New("store down")}
		handler := newTestServer(engine, "")

		req := httptest.NewRequest(http.MethodDelete, "/sessions/+254712345678", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

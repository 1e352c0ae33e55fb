package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okoalabs/pesabot/core/dispatch"
)

// Engine is the dispatch surface the admin server exposes. Implemented
// by dispatch.Loop.
type Engine interface {
	Health(ctx context.Context) (dispatch.Health, error)
	Stats() dispatch.Stats
	RemoveSession(ctx context.Context, identifier string) error
}

// Config holds admin server settings.
type Config struct {
	Addr            string        `env:"ADMIN_ADDR" envDefault:":8081"`
	Token           string        `env:"ADMIN_TOKEN"`
	ShutdownTimeout time.Duration `env:"ADMIN_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Server serves the operator endpoints.
type Server struct {
	engine          Engine
	token           string
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
	readiness       []func(context.Context) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReadinessChecks registers dependency probes for the readiness
// endpoint. All must succeed for the service to report ready.
func WithReadinessChecks(checks ...func(context.Context) error) Option {
	return func(s *Server) {
		s.readiness = append(s.readiness, checks...)
	}
}

// NewServer creates the admin server.
func NewServer(cfg Config, engine Engine, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8081"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		engine:          engine,
		token:           cfg.Token,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler builds the route tree. Exposed separately for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health/live", s.handleLiveness)
	r.Get("/health/ready", s.handleReadiness)

	r.Group(func(r chi.Router) {
		r.Use(s.authorize)
		r.Get("/status", s.handleStatus)
		r.Delete("/sessions/{identifier}", s.handleRemoveSession)
	})

	return r
}

// Start serves HTTP until the context is canceled. Blocking; use Run()
// for the errgroup pattern or call this in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "admin server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Run provides errgroup compatibility for coordinated lifecycle
// management.
func (s *Server) Run(ctx context.Context) func() error {
	return func() error {
		err := s.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.token)) != 1 {
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.readiness {
		if err := check(r.Context()); err != nil {
			s.logger.ErrorContext(r.Context(), "readiness check failed", slog.String("error", err.Error()))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	health, err := s.engine.Health(r.Context())
	if err != nil {
		s.logger.ErrorContext(r.Context(), "status query failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "status unavailable"})
		return
	}

	stats := s.engine.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions":        health.ActiveSessions,
		"authenticated_sessions": health.AuthenticatedSessions,
		"is_running":             health.IsRunning,
		"messages": map[string]int64{
			"received":  stats.MessagesReceived,
			"processed": stats.MessagesProcessed,
			"duplicate": stats.MessagesDuplicate,
			"limited":   stats.MessagesLimited,
		},
		"send_failures": stats.SendFailures,
		"poll_failures": stats.PollFailures,
	})
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if identifier == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "identifier required"})
		return
	}

	if err := s.engine.RemoveSession(r.Context(), identifier); err != nil {
		s.logger.ErrorContext(r.Context(), "forced logout failed",
			slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "removal failed"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encoding failed", slog.String("error", err.Error()))
	}
}

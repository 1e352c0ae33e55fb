package bridge

import (
	"bytes"
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
	"github.com/google/uuid"

	"github.com/okoalabs/pesabot/core/dispatch"
)

// ErrQueueFull is returned to gateways when the inbound buffer is full.
var ErrQueueFull = errors.New("bridge: inbound queue full")

// Config holds webhook bridge settings.
type Config struct {
	Addr        string        `env:"BRIDGE_ADDR" envDefault:":8080"`
	Token       string        `env:"BRIDGE_TOKEN"`
	OutboundURL string        `env:"BRIDGE_OUTBOUND_URL"`
	QueueSize   int           `env:"BRIDGE_QUEUE_SIZE" envDefault:"256"`
	SendTimeout time.Duration `env:"BRIDGE_SEND_TIMEOUT" envDefault:"10s"`
}

// Bridge accepts inbound messages over HTTP and forwards outbound
// replies to a webhook. It implements dispatch.Transport.
type Bridge struct {
	token       string
	outboundURL string
	httpClient  *http.Client
	httpServer  *http.Server
	inbound     chan dispatch.RawMessage
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger for bridge diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for outbound webhook calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(b *Bridge) {
		if httpClient != nil {
			b.httpClient = httpClient
		}
	}
}

// New creates a webhook bridge.
func New(cfg Config, opts ...Option) *Bridge {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	b := &Bridge{
		token:       cfg.Token,
		outboundURL: cfg.OutboundURL,
		httpClient:  &http.Client{Timeout: cfg.SendTimeout},
		inbound:     make(chan dispatch.RawMessage, cfg.QueueSize),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return b
}

type inboundPayload struct {
	ID     string `json:"id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Handler builds the inbound route tree. Exposed separately for tests.
func (b *Bridge) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/messages", b.handleInbound)

	return r
}

func (b *Bridge) handleInbound(w http.ResponseWriter, r *http.Request) {
	if b.token != "" {
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(b.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var payload inboundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Sender == "" || payload.Text == "" {
		http.Error(w, "sender and text are required", http.StatusBadRequest)
		return
	}
	if payload.ID == "" {
		// Gateways without stable message ids get a generated one;
		// their re-deliveries will not be deduplicated.
		payload.ID = uuid.NewString()
	}

	msg := dispatch.RawMessage{
		ID:         payload.ID,
		Sender:     payload.Sender,
		Text:       payload.Text,
		ReceivedAt: b.now(),
	}

	select {
	case b.inbound <- msg:
		w.WriteHeader(http.StatusAccepted)
	default:
		b.logger.Warn("inbound queue full, message rejected", slog.String("id", msg.ID))
		http.Error(w, ErrQueueFull.Error(), http.StatusServiceUnavailable)
	}
}

// Receive drains the currently queued inbound messages without
// blocking. An empty queue yields an empty batch.
func (b *Bridge) Receive(ctx context.Context) ([]dispatch.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var batch []dispatch.RawMessage
	for {
		select {
		case msg := <-b.inbound:
			batch = append(batch, msg)
		default:
			return batch, nil
		}
	}
}

// Send forwards one reply to the outbound webhook. Without a configured
// webhook the reply is logged and dropped.
func (b *Bridge) Send(ctx context.Context, recipient, text string) error {
	if b.outboundURL == "" {
		b.logger.InfoContext(ctx, "outbound webhook not configured, reply dropped",
			slog.String("recipient", recipient))
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"recipient": recipient,
		"text":      text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.outboundURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("outbound webhook status %d", resp.StatusCode)
	}
	return nil
}

// Start serves the inbound endpoint until the context is canceled.
// Blocking; use Run() for the errgroup pattern or call this in a
// goroutine.
func (b *Bridge) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		b.logger.InfoContext(ctx, "bridge listening", slog.String("addr", b.httpServer.Addr))
		if err := b.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("bridge shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Run provides errgroup compatibility for coordinated lifecycle
// management.
func (b *Bridge) Run(ctx context.Context) func() error {
	return func() error {
		err := b.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

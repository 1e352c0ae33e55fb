package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okoalabs/pesabot/core/session"
	"github.com/okoalabs/pesabot/pkg/phone"
	"github.com/okoalabs/pesabot/pkg/ratelimiter"
)

const replyRateLimited = "⏳ You're sending messages too quickly. Please wait a moment and try again."

// Applier computes session transitions for inbound text. Implemented
// by conversation.Machine.
type Applier interface {
	Apply(ctx context.Context, sess *session.Session, text string) []string
}

// RateLimiter gates message processing per sender. Implemented by
// ratelimiter.Limiter.
type RateLimiter interface {
	Allow(ctx context.Context, policyName, identifier string) (*ratelimiter.Result, error)
}

// Config holds dispatch loop settings.
type Config struct {
	PollInterval    time.Duration `env:"DISPATCH_POLL_INTERVAL" envDefault:"1s"`
	Concurrency     int           `env:"DISPATCH_CONCURRENCY" envDefault:"8"`
	DedupCapacity   int           `env:"DISPATCH_DEDUP_CAPACITY" envDefault:"1000"`
	MaxPollBackoff  time.Duration `env:"DISPATCH_MAX_POLL_BACKOFF" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"DISPATCH_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Stats is a point-in-time snapshot of loop counters.
type Stats struct {
	MessagesReceived  int64 // Messages observed from the transport
	MessagesDuplicate int64 // Dropped by the dedup set
	MessagesProcessed int64 // Applied to a session
	MessagesLimited   int64 // Dropped by the rate limiter
	SendFailures      int64 // Outbound sends that errored
	PollFailures      int64 // Receive calls that errored
	IsRunning         bool
}

// Health is the operator-facing status of the engine.
type Health struct {
	ActiveSessions        int64 `json:"active_sessions"`
	AuthenticatedSessions int64 `json:"authenticated_sessions"`
	IsRunning             bool  `json:"is_running"`
}

// Loop pumps messages from the transport through the conversation
// machine.
type Loop struct {
	transport Transport
	sessions  session.Store
	machine   Applier
	limiter   RateLimiter

	pollInterval    time.Duration
	maxPollBackoff  time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	seen *dedup
	sem  chan struct{}

	// queues holds per-sender message backlogs. A sender with a backlog
	// entry has exactly one worker draining it, which gives strict
	// receipt-order processing per sender.
	queueMu sync.Mutex
	queues  map[string][]RawMessage

	// limited tracks senders already told to slow down, so a burst of
	// denied messages produces one notice instead of a notice storm.
	limitedMu sync.Mutex
	limited   map[string]struct{}

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// handlerCtx outlives the poll context so in-flight handlers can
	// finish their sends during the shutdown drain window. It is
	// canceled once the drain completes or times out.
	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	running           atomic.Bool
	messagesReceived  atomic.Int64
	messagesDuplicate atomic.Int64
	messagesProcessed atomic.Int64
	messagesLimited   atomic.Int64
	sendFailures      atomic.Int64
	pollFailures      atomic.Int64
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger for loop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop creates a dispatch loop.
func NewLoop(cfg Config, transport Transport, sessions session.Store, machine Applier, limiter RateLimiter, opts ...Option) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxPollBackoff <= 0 {
		cfg.MaxPollBackoff = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	l := &Loop{
		transport:       transport,
		sessions:        sessions,
		machine:         machine,
		limiter:         limiter,
		pollInterval:    cfg.PollInterval,
		maxPollBackoff:  cfg.MaxPollBackoff,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		seen:            newDedup(cfg.DedupCapacity),
		sem:             make(chan struct{}, cfg.Concurrency),
		queues:          make(map[string][]RawMessage),
		limited:         make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Start polls the transport until the context is canceled. Blocking;
// use Run() for the errgroup pattern or call this in a goroutine.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return fmt.Errorf("dispatch loop already started")
	}
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.handlerCtx, l.handlerCancel = context.WithCancel(context.Background())
	l.mu.Unlock()

	l.running.Store(true)
	defer l.running.Store(false)

	l.logger.InfoContext(l.ctx, "dispatch loop started",
		slog.Duration("poll_interval", l.pollInterval),
		slog.Int("concurrency", cap(l.sem)))

	backoff := l.pollInterval

	for {
		select {
		case <-l.ctx.Done():
			l.logger.InfoContext(context.Background(), "dispatch loop stopping")
			return l.ctx.Err()
		case <-time.After(backoff):
		}

		messages, err := l.transport.Receive(l.ctx)
		if err != nil {
			if l.ctx.Err() != nil {
				return l.ctx.Err()
			}
			l.pollFailures.Add(1)
			backoff = min(backoff*2, l.maxPollBackoff)
			l.logger.WarnContext(l.ctx, "transport poll failed",
				slog.String("error", err.Error()),
				slog.Duration("next_poll", backoff))
			continue
		}
		backoff = l.pollInterval

		for _, msg := range messages {
			l.ingest(msg)
		}
	}
}

// Stop cancels polling and drains in-flight handlers with a timeout.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if l.cancel == nil {
		l.mu.Unlock()
		return fmt.Errorf("dispatch loop not started")
	}
	cancel := l.cancel
	l.cancel = nil
	handlerCancel := l.handlerCancel
	l.mu.Unlock()

	cancel()
	if handlerCancel != nil {
		defer handlerCancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded after %s", l.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle
// management.
func (l *Loop) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- l.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = l.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// ingest deduplicates one message and schedules it on its sender's
// serial queue.
func (l *Loop) ingest(msg RawMessage) {
	l.messagesReceived.Add(1)

	if l.seen.Seen(msg.ID) {
		l.messagesDuplicate.Add(1)
		return
	}

	sender := phone.Normalize(msg.Sender)

	l.queueMu.Lock()
	backlog, active := l.queues[sender]
	l.queues[sender] = append(backlog, msg)
	l.queueMu.Unlock()

	if active {
		// An existing worker will pick the message up in order.
		return
	}

	l.wg.Add(1)
	go l.drain(sender)
}

// drain processes the sender's backlog in order, then retires.
func (l *Loop) drain(sender string) {
	defer l.wg.Done()

	l.sem <- struct{}{}
	defer func() { <-l.sem }()

	for {
		l.queueMu.Lock()
		backlog := l.queues[sender]
		if len(backlog) == 0 {
			delete(l.queues, sender)
			l.queueMu.Unlock()
			return
		}
		msg := backlog[0]
		l.queues[sender] = backlog[1:]
		l.queueMu.Unlock()

		l.handle(sender, msg)
	}
}

func (l *Loop) handle(sender string, msg RawMessage) {
	ctx := l.handlerContext()
	if ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "message handler panicked",
				slog.String("sender", phone.Mask(sender)),
				slog.Any("panic", r))
		}
	}()

	result, err := l.limiter.Allow(ctx, ratelimiter.PolicyGeneralAPI, sender)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit check failed",
			slog.String("sender", phone.Mask(sender)),
			slog.String("error", err.Error()))
	} else if !result.Allowed {
		l.messagesLimited.Add(1)
		if l.firstDenial(sender) {
			l.send(ctx, sender, replyRateLimited)
		}
		return
	}
	l.clearDenial(sender)

	sess, _, err := l.sessions.GetOrCreate(ctx, sender)
	if err != nil {
		l.logger.ErrorContext(ctx, "session lookup failed",
			slog.String("sender", phone.Mask(sender)),
			slog.String("error", err.Error()))
		return
	}

	replies := l.machine.Apply(ctx, &sess, msg.Text)

	if sess.IsDeleted() {
		err = l.sessions.Delete(ctx, sender)
	} else {
		err = l.sessions.Save(ctx, sess)
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "session persist failed",
			slog.String("sender", phone.Mask(sender)),
			slog.String("error", err.Error()))
	}

	for _, reply := range replies {
		l.send(ctx, sender, reply)
	}

	l.messagesProcessed.Add(1)
}

func (l *Loop) send(ctx context.Context, recipient, text string) {
	if err := l.transport.Send(ctx, recipient, text); err != nil {
		l.sendFailures.Add(1)
		l.logger.WarnContext(ctx, "outbound send failed",
			slog.String("recipient", phone.Mask(recipient)),
			slog.String("error", err.Error()))
	}
}

// firstDenial reports whether this is the sender's first denied message
// since they were last allowed.
func (l *Loop) firstDenial(sender string) bool {
	l.limitedMu.Lock()
	defer l.limitedMu.Unlock()
	if _, ok := l.limited[sender]; ok {
		return false
	}
	l.limited[sender] = struct{}{}
	return true
}

func (l *Loop) clearDenial(sender string) {
	l.limitedMu.Lock()
	delete(l.limited, sender)
	l.limitedMu.Unlock()
}

// handlerContext returns the context message handlers run under.
// Before Start is called (push-mode transports, tests) handlers run
// under the background context.
func (l *Loop) handlerContext() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlerCtx != nil {
		return l.handlerCtx
	}
	return context.Background()
}

// Process applies one message synchronously, bypassing the transport
// poll. Used by tests and by transports that push instead of poll.
func (l *Loop) Process(msg RawMessage) {
	l.ingest(msg)
}

// RemoveSession force-logs-out an identifier. The identifier is
// normalized before lookup.
func (l *Loop) RemoveSession(ctx context.Context, identifier string) error {
	return l.sessions.Delete(ctx, phone.Normalize(identifier))
}

// Health reports the operator-facing engine status.
func (l *Loop) Health(ctx context.Context) (Health, error) {
	active, authenticated, err := l.sessions.Counts(ctx)
	if err != nil {
		return Health{}, err
	}
	return Health{
		ActiveSessions:        active,
		AuthenticatedSessions: authenticated,
		IsRunning:             l.running.Load(),
	}, nil
}

// Stats returns a snapshot of loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		MessagesReceived:  l.messagesReceived.Load(),
		MessagesDuplicate: l.messagesDuplicate.Load(),
		MessagesProcessed: l.messagesProcessed.Load(),
		MessagesLimited:   l.messagesLimited.Load(),
		SendFailures:      l.sendFailures.Load(),
		PollFailures:      l.pollFailures.Load(),
		IsRunning:         l.running.Load(),
	}
}

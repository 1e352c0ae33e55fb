package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// shardCount spreads identifiers across independent locks so concurrent
// users never serialize on one mutex. Must be a power of two.
const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// MemoryStore implements Store with sharded in-memory maps and a
// periodic sweep of expired sessions.
type MemoryStore struct {
	shards [shardCount]*shard

	// Configuration
	ttl             time.Duration
	sweepInterval   time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	now             func() time.Time

	// State management
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	// Observability metrics
	sessionsCreated atomic.Int64
	sessionsSwept   atomic.Int64
}

// MemoryStoreStats provides observability metrics for monitoring and debugging.
type MemoryStoreStats struct {
	SessionsCreated int64 // Total number of sessions minted
	SessionsSwept   int64 // Total number of expired sessions evicted
	ActiveSessions  int   // Current number of stored sessions
	IsRunning       bool  // Whether the sweep goroutine is running
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryStoreLogger sets the logger for sweep operations.
func WithMemoryStoreLogger(logger *slog.Logger) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if logger != nil {
			ms.logger = logger
		}
	}
}

// WithMemoryStoreClock overrides the time source. Intended for tests.
func WithMemoryStoreClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if now != nil {
			ms.now = now
		}
	}
}

// WithMemoryStoreShutdownTimeout sets the graceful shutdown timeout.
func WithMemoryStoreShutdownTimeout(timeout time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if timeout > 0 {
			ms.shutdownTimeout = timeout
		}
	}
}

// NewMemoryStore creates a sharded in-memory session store.
// Call Start() or Run() to begin the background sweep.
func NewMemoryStore(cfg Config, opts ...MemoryStoreOption) *MemoryStore {
	def := defaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	ms := &MemoryStore{
		ttl:             cfg.TTL,
		sweepInterval:   cfg.SweepInterval,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:             time.Now,
	}
	for i := range ms.shards {
		ms.shards[i] = &shard{sessions: make(map[string]Session)}
	}

	for _, opt := range opts {
		opt(ms)
	}

	return ms
}

func (ms *MemoryStore) shardFor(identifier string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identifier))
	return ms.shards[h.Sum32()&(shardCount-1)]
}

// GetOrCreate implements Store. A session constructor never fails: an
// absent or expired entry is replaced by a fresh Init session.
func (ms *MemoryStore) GetOrCreate(ctx context.Context, identifier string) (Session, bool, error) {
	sh := ms.shardFor(identifier)
	now := ms.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sess, ok := sh.sessions[identifier]; ok && !sess.IsExpired(now, ms.ttl) {
		return sess, false, nil
	}

	sess := New(identifier, now)
	sh.sessions[identifier] = sess
	ms.sessionsCreated.Add(1)
	return sess, true, nil
}

// Save implements Store. Sessions marked for deletion are removed
// instead of written back.
func (ms *MemoryStore) Save(ctx context.Context, sess Session) error {
	if sess.IsDeleted() {
		return ms.Delete(ctx, sess.Identifier)
	}

	sh := ms.shardFor(sess.Identifier)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess.Touch(ms.now())
	sh.sessions[sess.Identifier] = sess
	return nil
}

// Delete implements Store.
func (ms *MemoryStore) Delete(ctx context.Context, identifier string) error {
	sh := ms.shardFor(identifier)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.sessions, identifier)
	return nil
}

// DeleteExpired implements Store. Sessions being updated are safe: a
// session observed mid-conversation has recent activity and cannot be
// past the idle TTL.
func (ms *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := ms.now()
	var removed int64

	for _, sh := range ms.shards {
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if sess.IsExpired(now, ms.ttl) {
				delete(sh.sessions, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 {
		ms.sessionsSwept.Add(removed)
	}
	return removed, nil
}

// Counts implements Store.
func (ms *MemoryStore) Counts(ctx context.Context) (int64, int64, error) {
	now := ms.now()
	var active, authenticated int64

	for _, sh := range ms.shards {
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			if sess.IsExpired(now, ms.ttl) {
				continue
			}
			active++
			if sess.IsAuthenticated() {
				authenticated++
			}
		}
		sh.mu.RUnlock()
	}

	return active, authenticated, nil
}

// Start begins the background sweep goroutine. Blocking; use Run() for
// the errgroup pattern or call this in a goroutine.
func (ms *MemoryStore) Start(ctx context.Context) error {
	ms.mu.Lock()
	if ms.cancel != nil {
		ms.mu.Unlock()
		return fmt.Errorf("session store already started")
	}
	ms.ctx, ms.cancel = context.WithCancel(ctx)
	ms.mu.Unlock()

	ms.running.Store(true)
	defer ms.running.Store(false)

	ms.logger.InfoContext(ms.ctx, "session sweep started",
		slog.Duration("interval", ms.sweepInterval),
		slog.Duration("ttl", ms.ttl))

	ticker := time.NewTicker(ms.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ms.ctx.Done():
			ms.logger.InfoContext(context.Background(), "session sweep stopping")
			return ms.ctx.Err()
		case <-ticker.C:
			ms.sweepWithWait()
		}
	}
}

// Stop gracefully shuts down the sweep with a timeout.
func (ms *MemoryStore) Stop() error {
	ms.mu.Lock()
	if ms.cancel == nil {
		ms.mu.Unlock()
		return fmt.Errorf("session store not started")
	}
	cancel := ms.cancel
	ms.cancel = nil
	ms.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), ms.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		ms.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded after %s", ms.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (ms *MemoryStore) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- ms.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = ms.Stop()
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

func (ms *MemoryStore) sweepWithWait() {
	ms.mu.Lock()
	if ms.cancel == nil {
		ms.mu.Unlock()
		return
	}
	ms.wg.Add(1)
	ms.mu.Unlock()

	defer ms.wg.Done()

	removed, _ := ms.DeleteExpired(ms.ctx)
	if removed > 0 {
		ms.logger.InfoContext(ms.ctx, "expired sessions evicted",
			slog.Int64("count", removed))
	}
}

// Stats returns current store statistics.
func (ms *MemoryStore) Stats() MemoryStoreStats {
	var active int
	for _, sh := range ms.shards {
		sh.mu.RLock()
		active += len(sh.sessions)
		sh.mu.RUnlock()
	}

	ms.mu.Lock()
	isRunning := ms.cancel != nil
	ms.mu.Unlock()

	return MemoryStoreStats{
		SessionsCreated: ms.sessionsCreated.Load(),
		SessionsSwept:   ms.sessionsSwept.Load(),
		ActiveSessions:  active,
		IsRunning:       isRunning,
	}
}

// Healthcheck validates that the store is operational.
func (ms *MemoryStore) Healthcheck(ctx context.Context) error {
	if ms.sweepInterval > 0 && !ms.Stats().IsRunning {
		return fmt.Errorf("session sweep is configured but not running")
	}
	return nil
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pesabot:session:"

// RedisStore implements Store on top of Redis. Sessions are stored as
// JSON values with the idle TTL applied on every write, so Redis evicts
// expired sessions without a sweep goroutine.
//
// Suitable when several engine instances share one session space.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisStoreClock overrides the time source. Intended for tests.
func WithRedisStoreClock(now func() time.Time) RedisStoreOption {
	return func(rs *RedisStore) {
		if now != nil {
			rs.now = now
		}
	}
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, cfg Config, opts ...RedisStoreOption) *RedisStore {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultConfig().TTL
	}

	rs := &RedisStore{
		client: client,
		ttl:    cfg.TTL,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(rs)
	}

	return rs
}

func redisKey(identifier string) string {
	return redisKeyPrefix + identifier
}

// GetOrCreate implements Store.
func (rs *RedisStore) GetOrCreate(ctx context.Context, identifier string) (Session, bool, error) {
	now := rs.now()

	raw, err := rs.client.Get(ctx, redisKey(identifier)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// absent, mint below
	case err != nil:
		return Session{}, false, fmt.Errorf("session: redis get: %w", err)
	default:
		var sess Session
		// A corrupt entry is treated as absent rather than poisoning the
		// user's conversation forever.
		if jsonErr := json.Unmarshal(raw, &sess); jsonErr == nil && !sess.IsExpired(now, rs.ttl) {
			return sess, false, nil
		}
	}

	sess := New(identifier, now)
	if err := rs.write(ctx, sess); err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// Save implements Store.
func (rs *RedisStore) Save(ctx context.Context, sess Session) error {
	if sess.IsDeleted() {
		return rs.Delete(ctx, sess.Identifier)
	}

	sess.Touch(rs.now())
	return rs.write(ctx, sess)
}

func (rs *RedisStore) write(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return errors.Join(ErrSaveSession, err)
	}
	if err := rs.client.Set(ctx, redisKey(sess.Identifier), raw, rs.ttl).Err(); err != nil {
		return errors.Join(ErrSaveSession, err)
	}
	return nil
}

// Delete implements Store.
func (rs *RedisStore) Delete(ctx context.Context, identifier string) error {
	if err := rs.client.Del(ctx, redisKey(identifier)).Err(); err != nil {
		return errors.Join(ErrDeleteSession, err)
	}
	return nil
}

// DeleteExpired implements Store. Redis evicts keys via TTL, so there is
// nothing to do here.
func (rs *RedisStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

// Counts implements Store. Scans the session keyspace; intended for the
// operator status endpoint, not hot paths.
func (rs *RedisStore) Counts(ctx context.Context) (int64, int64, error) {
	var active, authenticated int64

	iter := rs.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := rs.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return 0, 0, fmt.Errorf("session: redis get: %w", err)
		}

		var sess Session
		if json.Unmarshal(raw, &sess) != nil {
			continue
		}
		active++
		if sess.IsAuthenticated() {
			authenticated++
		}
	}
	if err := iter.Err(); err != nil {
		return 0, 0, fmt.Errorf("session: redis scan: %w", err)
	}

	return active, authenticated, nil
}

// Healthcheck validates Redis connectivity.
func (rs *RedisStore) Healthcheck(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("session: redis ping: %w", err)
	}
	return nil
}

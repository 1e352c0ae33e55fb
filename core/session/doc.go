// Package session maintains per-user conversational state for the
// dispatch engine.
//
// A Session is keyed by the user's normalized phone number and carries
// the authentication state machine position (init, awaiting phone,
// awaiting OTP, authenticated), the linked account once verified, and a
// bounded history of recent exchanges used as conversational context.
//
// Stores hide where sessions live. MemoryStore shards sessions across
// locked maps so concurrent users never contend on a single lock, and
// sweeps expired entries on an interval. RedisStore keeps sessions in
// Redis with a TTL so multiple engine instances can share state.
//
// A session idle for longer than the store's TTL is logically absent:
// GetOrCreate discards it and hands back a fresh Init session, so a user
// returning after a day starts over rather than resuming a stale login.
package session

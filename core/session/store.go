package session

import "context"

// Store defines the persistence interface for session management.
// Implementations must handle concurrent access safely. An expired
// session is indistinguishable from an absent one.
type Store interface {
	// GetOrCreate returns the live session for an identifier, creating a
	// fresh Init session when none exists or the stored one has expired.
	// The created flag reports whether a new session was minted.
	GetOrCreate(ctx context.Context, identifier string) (sess Session, created bool, err error)

	// Save upserts the session and records the write as user activity.
	Save(ctx context.Context, sess Session) error

	// Delete removes the session for an identifier. Deleting an absent
	// session is not an error.
	Delete(ctx context.Context, identifier string) error

	// DeleteExpired removes all expired sessions and returns the count
	// of deleted sessions.
	DeleteExpired(ctx context.Context) (int64, error)

	// Counts returns the number of live sessions and how many of them
	// are authenticated.
	Counts(ctx context.Context) (active, authenticated int64, err error)
}

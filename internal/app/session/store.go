// Package session persists login sessions behind a small Store contract
// with redis, postgres and in-memory backends. The backend is chosen once
// at startup; it never changes while the process runs.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/stackgenhq/platform/internal/app/domain/session"
)

// DefaultTTL is the session lifetime applied when a caller passes a
// non-positive TTL.
const DefaultTTL = 30 * 24 * time.Hour

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("session not found")

// Store persists sessions. Implementations must be safe for concurrent use
// and must treat expired records as absent.
type Store interface {
	// Create mints a new session for the account, valid for ttl.
	Create(ctx context.Context, accountID int64, ttl time.Duration) (session.Record, error)
	// Get returns the session by id, or ErrNotFound.
	Get(ctx context.Context, id string) (session.Record, error)
	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Close releases backend resources.
	Close() error
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

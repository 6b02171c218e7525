package session

import "time"

// Record associates an opaque session identifier with an account.
type Record struct {
	ID        string
	AccountID int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is past its expiry.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackgenhq/platform/internal/app/domain/session"
)

// MemoryStore keeps sessions in process memory. Sessions do not survive a
// restart; it is the last-resort backend and the default for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]session.Record
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]session.Record)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, accountID int64, ttl time.Duration) (session.Record, error) {
	now := time.Now().UTC()
	rec := session.Record{
		ID:        uuid.NewString(),
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(normalizeTTL(ttl)),
	}

	s.mu.Lock()
	s.sessions[rec.ID] = rec
	s.mu.Unlock()
	return rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (session.Record, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return session.Record{}, ErrNotFound
	}
	if rec.Expired(time.Now().UTC()) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return session.Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stackgenhq/platform/internal/app/domain/session"
)

// PostgresStore persists sessions in the relational database. Expired rows
// are filtered on read and reaped opportunistically on delete, so no
// background sweeper is required.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. The handle is owned by
// the caller; Close here is a no-op.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Create(ctx context.Context, accountID int64, ttl time.Duration) (session.Record, error) {
	now := time.Now().UTC()
	rec := session.Record{
		ID:        uuid.NewString(),
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(normalizeTTL(ttl)),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.AccountID, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return session.Record{}, fmt.Errorf("insert session: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (session.Record, error) {
	var rec session.Record
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, created_at, expires_at FROM sessions WHERE id = $1 AND expires_at > $2`,
		id, time.Now().UTC()).
		Scan(&rec.ID, &rec.AccountID, &rec.CreatedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return session.Record{}, ErrNotFound
	}
	if err != nil {
		return session.Record{}, fmt.Errorf("load session: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1 OR expires_at <= $2`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return nil }

// Package migrations creates and evolves the relational schema. Statements
// are ordered and idempotent, so Apply is safe to run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		credits BIGINT NOT NULL DEFAULT 0,
		is_premium BOOLEAN NOT NULL DEFAULT FALSE,
		premium_expires_at TIMESTAMPTZ,
		tour_completed BOOLEAN NOT NULL DEFAULT FALSE,
		custom_domain TEXT NOT NULL DEFAULT '',
		banned BOOLEAN NOT NULL DEFAULT FALSE,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS usage_counters (
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		feature TEXT NOT NULL,
		used_count BIGINT NOT NULL DEFAULT 0,
		last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (account_id, feature)
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_account ON projects(account_id)`,
	`CREATE TABLE IF NOT EXISTS pending_payments (
		order_id TEXT PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		credits BIGINT NOT NULL,
		amount_paise BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_payments_status ON pending_payments(status)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
}

// Apply runs every schema statement in order against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Count reports how many schema statements Apply runs. Exposed for tests.
func Count() int { return len(statements) }

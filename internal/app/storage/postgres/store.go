package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stackgenhq/platform/internal/app/domain/account"
	"github.com/stackgenhq/platform/internal/app/domain/payment"
	"github.com/stackgenhq/platform/internal/app/domain/project"
	"github.com/stackgenhq/platform/internal/app/domain/usage"
	"github.com/stackgenhq/platform/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const accountColumns = `id, email, credits, is_premium, premium_expires_at, tour_completed, custom_domain, banned, is_admin, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (account.Account, error) {
	var (
		acct      account.Account
		expiresAt sql.NullTime
	)
	if err := row.Scan(&acct.ID, &acct.Email, &acct.Credits, &acct.IsPremium, &expiresAt, &acct.TourCompleted, &acct.CustomDomain, &acct.Banned, &acct.IsAdmin, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return account.Account{}, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		acct.PremiumExpiresAt = &t
	}
	return acct, nil
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (email, credits, is_premium, premium_expires_at, tour_completed, custom_domain, banned, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+accountColumns+`
	`, acct.Email, acct.Credits, acct.IsPremium, toNullTime(acct.PremiumExpiresAt), acct.TourCompleted, acct.CustomDomain, acct.Banned, acct.IsAdmin, now)
	return scanAccount(row)
}

func (s *Store) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

func (s *Store) UpdateCredits(ctx context.Context, id int64, credits int64) (account.Account, error) {
	if credits < 0 {
		credits = 0
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET credits = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, id, credits, time.Now().UTC())
	return scanAccount(row)
}

func (s *Store) AddCredits(ctx context.Context, id int64, delta int64) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET credits = GREATEST(credits + $2, 0), updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, id, delta, time.Now().UTC())
	return scanAccount(row)
}

// DebitCredit performs the conditional decrement in a single statement so
// two concurrent debits can never drive the balance negative.
func (s *Store) DebitCredit(ctx context.Context, id int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET credits = credits - 1, updated_at = $2
		WHERE id = $1 AND credits > 0
	`, id, time.Now().UTC())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) SetTourCompleted(ctx context.Context, id int64, done bool) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET tour_completed = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, id, done, time.Now().UTC())
	return scanAccount(row)
}

func (s *Store) SetCustomDomain(ctx context.Context, id int64, domain string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET custom_domain = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, id, domain, time.Now().UTC())
	return scanAccount(row)
}

func (s *Store) SetPremium(ctx context.Context, id int64, premium bool, expiresAt *time.Time) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET is_premium = $2, premium_expires_at = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, id, premium, toNullTime(expiresAt), time.Now().UTC())
	return scanAccount(row)
}

func (s *Store) SetBanned(ctx context.Context, id int64, banned bool) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET banned = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, id, banned, time.Now().UTC())
	return scanAccount(row)
}

func (s *Store) SetAdmin(ctx context.Context, id int64, admin bool) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET is_admin = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+accountColumns+`
	`, id, admin, time.Now().UTC())
	return scanAccount(row)
}

// --- UsageStore -------------------------------------------------------------

func (s *Store) GetCounter(ctx context.Context, accountID int64, feature string) (usage.Counter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT account_id, feature, used_count, last_used_at
		FROM usage_counters
		WHERE account_id = $1 AND feature = $2
	`, accountID, feature)

	var ctr usage.Counter
	if err := row.Scan(&ctr.AccountID, &ctr.Feature, &ctr.UsedCount, &ctr.LastUsedAt); err != nil {
		return usage.Counter{}, err
	}
	return ctr, nil
}

func (s *Store) ListCounters(ctx context.Context, accountID int64) ([]usage.Counter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, feature, used_count, last_used_at
		FROM usage_counters
		WHERE account_id = $1
		ORDER BY feature
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []usage.Counter
	for rows.Next() {
		var ctr usage.Counter
		if err := rows.Scan(&ctr.AccountID, &ctr.Feature, &ctr.UsedCount, &ctr.LastUsedAt); err != nil {
			return nil, err
		}
		result = append(result, ctr)
	}
	return result, rows.Err()
}

func (s *Store) IncrementCounter(ctx context.Context, accountID int64, feature string) (usage.Counter, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_counters (account_id, feature, used_count, last_used_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (account_id, feature)
		DO UPDATE SET used_count = usage_counters.used_count + 1, last_used_at = EXCLUDED.last_used_at
		RETURNING account_id, feature, used_count, last_used_at
	`, accountID, feature, time.Now().UTC())

	var ctr usage.Counter
	if err := row.Scan(&ctr.AccountID, &ctr.Feature, &ctr.UsedCount, &ctr.LastUsedAt); err != nil {
		return usage.Counter{}, err
	}
	return ctr, nil
}

// --- ProjectStore -----------------------------------------------------------

func (s *Store) CreateProject(ctx context.Context, proj project.Project) (project.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (account_id, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, account_id, name, created_at
	`, proj.AccountID, proj.Name, time.Now().UTC())

	var created project.Project
	if err := row.Scan(&created.ID, &created.AccountID, &created.Name, &created.CreatedAt); err != nil {
		return project.Project{}, err
	}
	return created, nil
}

func (s *Store) ListProjects(ctx context.Context, accountID int64) ([]project.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, name, created_at
		FROM projects
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []project.Project
	for rows.Next() {
		var proj project.Project
		if err := rows.Scan(&proj.ID, &proj.AccountID, &proj.Name, &proj.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, proj)
	}
	return result, rows.Err()
}

func (s *Store) DeleteProject(ctx context.Context, accountID, projectID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM projects WHERE id = $1 AND account_id = $2
	`, projectID, accountID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) CreatePendingPayment(ctx context.Context, p payment.PendingPayment) (payment.PendingPayment, error) {
	if p.OrderID == "" {
		return payment.PendingPayment{}, fmt.Errorf("order id is required")
	}
	now := time.Now().UTC()
	p.Status = payment.StatusPending
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_payments (order_id, account_id, credits, amount_paise, status, payment_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '', $6, $6)
	`, p.OrderID, p.AccountID, p.Credits, p.AmountPaise, p.Status, now)
	if err != nil {
		return payment.PendingPayment{}, err
	}
	return p, nil
}

func (s *Store) GetPendingPayment(ctx context.Context, orderID string) (payment.PendingPayment, error) {
	return s.getPayment(ctx, s.db, orderID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) getPayment(ctx context.Context, q queryRower, orderID string) (payment.PendingPayment, error) {
	row := q.QueryRowContext(ctx, `
		SELECT order_id, account_id, credits, amount_paise, status, payment_id, created_at, updated_at
		FROM pending_payments
		WHERE order_id = $1
	`, orderID)

	var p payment.PendingPayment
	if err := row.Scan(&p.OrderID, &p.AccountID, &p.Credits, &p.AmountPaise, &p.Status, &p.PaymentID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return payment.PendingPayment{}, err
	}
	return p, nil
}

func (s *Store) ListPendingPayments(ctx context.Context) ([]payment.PendingPayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, account_id, credits, amount_paise, status, payment_id, created_at, updated_at
		FROM pending_payments
		WHERE status = $1
		ORDER BY created_at
	`, payment.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payment.PendingPayment
	for rows.Next() {
		var p payment.PendingPayment
		if err := rows.Scan(&p.OrderID, &p.AccountID, &p.Credits, &p.AmountPaise, &p.Status, &p.PaymentID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// CompletePayment transitions the order and credits the account inside one
// transaction. The conditional UPDATE on status makes webhook replays a
// no-op: the second delivery sees zero affected rows and nothing is
// credited again.
func (s *Store) CompletePayment(ctx context.Context, orderID, paymentID string) (payment.PendingPayment, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return payment.PendingPayment{}, false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE pending_payments
		SET status = $2, payment_id = $3, updated_at = $4
		WHERE order_id = $1 AND status = $5
	`, orderID, payment.StatusCompleted, paymentID, now, payment.StatusPending)
	if err != nil {
		return payment.PendingPayment{}, false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return payment.PendingPayment{}, false, err
	}

	p, err := s.getPayment(ctx, tx, orderID)
	if err != nil {
		return payment.PendingPayment{}, false, err
	}

	if rows == 0 {
		// Already settled (or failed); leave everything untouched.
		return p, false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET credits = credits + $2, updated_at = $3
		WHERE id = $1
	`, p.AccountID, p.Credits, now); err != nil {
		return payment.PendingPayment{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return payment.PendingPayment{}, false, err
	}
	return p, true, nil
}

func (s *Store) FailPayment(ctx context.Context, orderID string) (payment.PendingPayment, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_payments
		SET status = $2, updated_at = $3
		WHERE order_id = $1 AND status = $4
	`, orderID, payment.StatusFailed, time.Now().UTC(), payment.StatusPending)
	if err != nil {
		return payment.PendingPayment{}, err
	}
	return s.getPayment(ctx, s.db, orderID)
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

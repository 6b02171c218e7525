package storage

import (
	"context"
	"time"

	"github.com/stackgenhq/platform/internal/app/domain/account"
	"github.com/stackgenhq/platform/internal/app/domain/payment"
	"github.com/stackgenhq/platform/internal/app/domain/project"
	"github.com/stackgenhq/platform/internal/app/domain/usage"
)

// AccountStore persists account records. Lookups for absent rows return
// sql.ErrNoRows regardless of backend.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccount(ctx context.Context, id int64) (account.Account, error)

	// UpdateCredits sets the balance to an absolute value (admin surface).
	UpdateCredits(ctx context.Context, id int64, credits int64) (account.Account, error)
	// AddCredits adjusts the balance by delta and returns the updated account.
	AddCredits(ctx context.Context, id int64, delta int64) (account.Account, error)
	// DebitCredit decrements the balance by one only while it is positive.
	// The bool reports whether a row was actually updated; false means the
	// balance was already zero. The decrement is atomic at the store level.
	DebitCredit(ctx context.Context, id int64) (bool, error)

	SetTourCompleted(ctx context.Context, id int64, done bool) (account.Account, error)
	SetCustomDomain(ctx context.Context, id int64, domain string) (account.Account, error)
	SetPremium(ctx context.Context, id int64, premium bool, expiresAt *time.Time) (account.Account, error)
	SetBanned(ctx context.Context, id int64, banned bool) (account.Account, error)
	SetAdmin(ctx context.Context, id int64, admin bool) (account.Account, error)
}

// UsageStore persists per-feature usage counters.
type UsageStore interface {
	// GetCounter returns sql.ErrNoRows when the account has never used the
	// feature.
	GetCounter(ctx context.Context, accountID int64, feature string) (usage.Counter, error)
	ListCounters(ctx context.Context, accountID int64) ([]usage.Counter, error)
	// IncrementCounter creates the row with UsedCount=1 on first use and
	// increments it afterwards, updating LastUsedAt either way.
	IncrementCounter(ctx context.Context, accountID int64, feature string) (usage.Counter, error)
}

// ProjectStore persists project records.
type ProjectStore interface {
	CreateProject(ctx context.Context, proj project.Project) (project.Project, error)
	ListProjects(ctx context.Context, accountID int64) ([]project.Project, error)
	DeleteProject(ctx context.Context, accountID, projectID int64) error
}

// PaymentStore persists credit top-up orders.
type PaymentStore interface {
	CreatePendingPayment(ctx context.Context, p payment.PendingPayment) (payment.PendingPayment, error)
	GetPendingPayment(ctx context.Context, orderID string) (payment.PendingPayment, error)
	ListPendingPayments(ctx context.Context) ([]payment.PendingPayment, error)
	// CompletePayment transitions the order from pending to completed and
	// credits the account in one atomic step. The bool reports whether the
	// transition happened now; false means the order was already completed
	// and nothing changed (idempotent replay).
	CompletePayment(ctx context.Context, orderID, paymentID string) (payment.PendingPayment, bool, error)
	FailPayment(ctx context.Context, orderID string) (payment.PendingPayment, error)
}

// Store aggregates every persistence interface a full backend implements.
type Store interface {
	AccountStore
	UsageStore
	ProjectStore
	PaymentStore
}

// Package metering gates feature invocations against the free-tier
// allowance and the purchasable credit balance.
package metering

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stackgenhq/platform/internal/app/domain/usage"
	"github.com/stackgenhq/platform/internal/app/metrics"
	"github.com/stackgenhq/platform/internal/app/storage"
	"github.com/stackgenhq/platform/pkg/logger"
)

// ErrInsufficientCredits is returned when an account past its free allowance
// has no credits left. Handlers map it to HTTP 402.
var ErrInsufficientCredits = errors.New("insufficient credits")

// DefaultFreeTier is the number of free uses per feature when nothing else
// is configured.
const DefaultFreeTier int64 = 1

// Limits configures the free-tier allowance, globally and per feature.
// FreeTier is a pointer so an explicit zero, which disables the free tier,
// stays distinguishable from "not configured".
type Limits struct {
	FreeTier   *int64
	PerFeature map[string]int64
}

// FreeTierLimit wraps a global allowance value for Limits.
func FreeTierLimit(n int64) *int64 { return &n }

// ForFeature resolves the free allowance for a feature. Per-feature
// overrides win, then the configured global limit; both honour an
// explicit zero.
func (l Limits) ForFeature(feature string) int64 {
	if v, ok := l.PerFeature[feature]; ok {
		return v
	}
	if l.FreeTier != nil {
		return *l.FreeTier
	}
	return DefaultFreeTier
}

// Invalidator clears cached projections for an account after a mutation.
type Invalidator interface {
	InvalidateAccount(ctx context.Context, id int64)
}

// Service implements the usage meter and the credit ledger. It reads and
// writes the authoritative store directly: limit decisions must never be
// made from cached data.
type Service struct {
	store  storage.Store
	inv    Invalidator
	limits Limits
	log    *logger.Logger
}

// New constructs a metering service. inv may be nil when no cache is wired.
func New(store storage.Store, inv Invalidator, limits Limits, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("metering")
	}
	return &Service{store: store, inv: inv, limits: limits, log: log}
}

func (s *Service) usedCount(ctx context.Context, accountID int64, feature string) (int64, error) {
	ctr, err := s.store.GetCounter(ctx, accountID, feature)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ctr.UsedCount, nil
}

// CheckUsageLimit reports whether the account may invoke the feature right
// now. Within the free allowance access is granted regardless of balance;
// past it, a positive credit balance is required. This is a gate, not a
// reservation: DeductCreditForUsage re-checks before debiting.
func (s *Service) CheckUsageLimit(ctx context.Context, accountID int64, feature string) (bool, error) {
	used, err := s.usedCount(ctx, accountID, feature)
	if err != nil {
		return false, err
	}
	if used < s.limits.ForFeature(feature) {
		return true, nil
	}

	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	return acct.Credits > 0, nil
}

// DeductCreditForUsage settles a completed feature invocation: within the
// free allowance it only records the use; past it, it debits exactly one
// credit via the store's conditional decrement and fails with
// ErrInsufficientCredits when the balance is already empty. The relational
// writes land before any cache invalidation.
func (s *Service) DeductCreditForUsage(ctx context.Context, accountID int64, feature string) (usage.Counter, error) {
	used, err := s.usedCount(ctx, accountID, feature)
	if err != nil {
		return usage.Counter{}, err
	}

	if used >= s.limits.ForFeature(feature) {
		debited, err := s.store.DebitCredit(ctx, accountID)
		if err != nil {
			return usage.Counter{}, err
		}
		if !debited {
			return usage.Counter{}, ErrInsufficientCredits
		}
		metrics.ObserveCreditDebit()
		s.log.Infof("debited 1 credit from account %d for %s", accountID, feature)
	}

	return s.RecordUse(ctx, accountID, feature)
}

// RecordUse increments the per-feature counter, creating it on first use.
// The counter is independent of the credit balance and is never reset.
func (s *Service) RecordUse(ctx context.Context, accountID int64, feature string) (usage.Counter, error) {
	ctr, err := s.store.IncrementCounter(ctx, accountID, feature)
	if err != nil {
		return usage.Counter{}, err
	}
	metrics.ObserveFeatureUse(feature)
	if s.inv != nil {
		s.inv.InvalidateAccount(ctx, accountID)
	}
	return ctr, nil
}

// Usage returns the account's counters from the authoritative store.
func (s *Service) Usage(ctx context.Context, accountID int64) ([]usage.Counter, error) {
	return s.store.ListCounters(ctx, accountID)
}

// Package cached decorates a storage backend with cache-aside reads and
// write-then-invalidate mutations. The wrapped store remains the source of
// truth; the cache only ever accelerates reads.
package cached

import (
	"context"
	"fmt"
	"time"

	"github.com/stackgenhq/platform/internal/app/cache"
	"github.com/stackgenhq/platform/internal/app/domain/account"
	"github.com/stackgenhq/platform/internal/app/domain/payment"
	"github.com/stackgenhq/platform/internal/app/domain/project"
	"github.com/stackgenhq/platform/internal/app/domain/usage"
	"github.com/stackgenhq/platform/internal/app/storage"
	"github.com/stackgenhq/platform/pkg/logger"
)

// TTLs tuned per entity type. Values may be served up to this much stale;
// mutations clear them eagerly.
const (
	accountTTL  = time.Hour
	projectsTTL = 30 * time.Minute
	usageTTL    = 15 * time.Minute
)

// Cache is the slice of the cache client the decorator reads and clears.
// cache.Client is the production implementation; tests substitute an
// in-process backend.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var _ Cache = (*cache.Client)(nil)

// Store wraps an authoritative store with the cache client. Every mutation
// writes through to the backend first and then clears the whole per-account
// key set; cache failures are logged and discarded, never surfaced.
type Store struct {
	storage.Store
	cache Cache
	log   *logger.Logger
}

var _ storage.Store = (*Store)(nil)

// New wraps backend with cache-aside behaviour.
func New(backend storage.Store, c Cache, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("cached-store")
	}
	if c == nil {
		c = cache.New(cache.Config{}, log)
	}
	return &Store{Store: backend, cache: c, log: log}
}

func accountKey(id int64) string  { return fmt.Sprintf("account:%d", id) }
func projectsKey(id int64) string { return fmt.Sprintf("projects:account:%d", id) }
func usageKey(id int64) string    { return fmt.Sprintf("usage:account:%d", id) }

// InvalidateAccount clears every cache key scoped to the account. Any new
// mutating operation on account-scoped data must be covered by this set.
func (s *Store) InvalidateAccount(ctx context.Context, id int64) {
	s.discard(s.cache.Delete(ctx, accountKey(id), projectsKey(id), usageKey(id)))
}

// discard is the single place cache errors die. Keeping it explicit makes
// the never-propagate contract visible to readers of every call site.
func (s *Store) discard(err error) {
	if err != nil {
		s.log.WithError(err).Debug("cache operation failed")
	}
}

// --- cache-aside reads ------------------------------------------------------

func (s *Store) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	var cachedAcct account.Account
	hit, err := s.cache.Get(ctx, accountKey(id), &cachedAcct)
	s.discard(err)
	if hit {
		return cachedAcct, nil
	}

	acct, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, err
	}
	s.discard(s.cache.Set(ctx, accountKey(id), acct, accountTTL))
	return acct, nil
}

func (s *Store) ListProjects(ctx context.Context, accountID int64) ([]project.Project, error) {
	var cachedList []project.Project
	hit, err := s.cache.Get(ctx, projectsKey(accountID), &cachedList)
	s.discard(err)
	if hit {
		return cachedList, nil
	}

	projects, err := s.Store.ListProjects(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.discard(s.cache.Set(ctx, projectsKey(accountID), projects, projectsTTL))
	return projects, nil
}

func (s *Store) ListCounters(ctx context.Context, accountID int64) ([]usage.Counter, error) {
	var cachedList []usage.Counter
	hit, err := s.cache.Get(ctx, usageKey(accountID), &cachedList)
	s.discard(err)
	if hit {
		return cachedList, nil
	}

	counters, err := s.Store.ListCounters(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.discard(s.cache.Set(ctx, usageKey(accountID), counters, usageTTL))
	return counters, nil
}

// GetCounter is intentionally not cached: it feeds usage-limit decisions,
// which must always read the authoritative store.

// --- write-then-invalidate mutations ----------------------------------------

func (s *Store) UpdateCredits(ctx context.Context, id int64, credits int64) (account.Account, error) {
	acct, err := s.Store.UpdateCredits(ctx, id, credits)
	if err != nil {
		return account.Account{}, err
	}
	s.InvalidateAccount(ctx, id)
	return acct, nil
}

func (s *Store) AddCredits(ctx context.Context, id int64, delta int64) (account.Account, error) {
	acct, err := s.Store.AddCredits(ctx, id, delta)
	if err != nil {
		return account.Account{}, err
	}
	s.InvalidateAccount(ctx, id)
	return acct, nil
}

func (s *Store) DebitCredit(ctx context.Context, id int64) (bool, error) {
	debited, err := s.Store.DebitCredit(ctx, id)
	if err != nil {
		return false, err
	}
	if debited {
		s.InvalidateAccount(ctx, id)
	}
	return debited, nil
}

func (s *Store) SetTourCompleted(ctx context.Context, id int64, done bool) (account.Account, error) {
	acct, err := s.Store.SetTourCompleted(ctx, id, done)
	if err != nil {
		return account.Account{}, err
	}
	s.InvalidateAccount(ctx, id)
	return acct, nil
}

func (s *Store) SetCustomDomain(ctx context.Context, id int64, domain string) (account.Account, error) {
	acct, err := s.Store.SetCustomDomain(ctx, id, domain)
	if err != nil {
		return account.Account{}, err
	}
	s.InvalidateAccount(ctx, id)
	return acct, nil
}

func (s *Store) SetPremium(ctx context.Context, id int64, premium bool, expiresAt *time.Time) (account.Account, error) {
	acct, err := s.Store.SetPremium(ctx, id, premium, expiresAt)
	if err != nil {
		return account.Account{}, err
	}
	s.InvalidateAccount(ctx, id)
	return acct, nil
}

func (s *Store) SetBanned(ctx context.Context, id int64, banned bool) (account.Account, error) {
	acct, err := s.Store.SetBanned(ctx, id, banned)
	if err != nil {
		return account.Account{}, err
	}
	s.InvalidateAccount(ctx, id)
	return acct, nil
}

func (s *Store) SetAdmin(ctx context.Context, id int64, admin bool) (account.Account, error) {
	acct, err := s.Store.SetAdmin(ctx, id, admin)
	if err != nil {
		return account.Account{}, err
	}
	s.InvalidateAccount(ctx, id)
	return acct, nil
}

func (s *Store) IncrementCounter(ctx context.Context, accountID int64, feature string) (usage.Counter, error) {
	ctr, err := s.Store.IncrementCounter(ctx, accountID, feature)
	if err != nil {
		return usage.Counter{}, err
	}
	s.InvalidateAccount(ctx, accountID)
	return ctr, nil
}

func (s *Store) CreateProject(ctx context.Context, proj project.Project) (project.Project, error) {
	created, err := s.Store.CreateProject(ctx, proj)
	if err != nil {
		return project.Project{}, err
	}
	s.InvalidateAccount(ctx, created.AccountID)
	return created, nil
}

func (s *Store) DeleteProject(ctx context.Context, accountID, projectID int64) error {
	if err := s.Store.DeleteProject(ctx, accountID, projectID); err != nil {
		return err
	}
	s.InvalidateAccount(ctx, accountID)
	return nil
}

func (s *Store) CompletePayment(ctx context.Context, orderID, paymentID string) (payment.PendingPayment, bool, error) {
	p, credited, err := s.Store.CompletePayment(ctx, orderID, paymentID)
	if err != nil {
		return payment.PendingPayment{}, false, err
	}
	if credited {
		s.InvalidateAccount(ctx, p.AccountID)
	}
	return p, credited, nil
}

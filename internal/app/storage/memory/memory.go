package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stackgenhq/platform/internal/app/domain/account"
	"github.com/stackgenhq/platform/internal/app/domain/payment"
	"github.com/stackgenhq/platform/internal/app/domain/project"
	"github.com/stackgenhq/platform/internal/app/domain/usage"
	"github.com/stackgenhq/platform/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. Absent rows surface as sql.ErrNoRows to match the postgres
// backend.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[int64]account.Account
	counters map[int64]map[string]usage.Counter
	projects map[int64]project.Project
	payments map[string]payment.PendingPayment
	orderSeq []string
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:   1,
		accounts: make(map[int64]account.Account),
		counters: make(map[int64]map[string]usage.Counter),
		projects: make(map[int64]project.Project),
		payments: make(map[string]payment.PendingPayment),
	}
}

func (s *Store) nextIDLocked() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.ID == 0 {
		acct.ID = s.nextIDLocked()
	} else if _, exists := s.accounts[acct.ID]; exists {
		return account.Account{}, fmt.Errorf("account %d already exists", acct.ID)
	}

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) GetAccount(_ context.Context, id int64) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, sql.ErrNoRows
	}
	return acct, nil
}

func (s *Store) UpdateCredits(_ context.Context, id int64, credits int64) (account.Account, error) {
	return s.mutateAccount(id, func(acct *account.Account) {
		if credits < 0 {
			credits = 0
		}
		acct.Credits = credits
	})
}

func (s *Store) AddCredits(_ context.Context, id int64, delta int64) (account.Account, error) {
	return s.mutateAccount(id, func(acct *account.Account) {
		acct.Credits += delta
		if acct.Credits < 0 {
			acct.Credits = 0
		}
	})
}

func (s *Store) DebitCredit(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return false, sql.ErrNoRows
	}
	if acct.Credits <= 0 {
		return false, nil
	}
	acct.Credits--
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[id] = acct
	return true, nil
}

func (s *Store) SetTourCompleted(_ context.Context, id int64, done bool) (account.Account, error) {
	return s.mutateAccount(id, func(acct *account.Account) { acct.TourCompleted = done })
}

func (s *Store) SetCustomDomain(_ context.Context, id int64, domain string) (account.Account, error) {
	return s.mutateAccount(id, func(acct *account.Account) { acct.CustomDomain = domain })
}

func (s *Store) SetPremium(_ context.Context, id int64, premium bool, expiresAt *time.Time) (account.Account, error) {
	return s.mutateAccount(id, func(acct *account.Account) {
		acct.IsPremium = premium
		acct.PremiumExpiresAt = expiresAt
	})
}

func (s *Store) SetBanned(_ context.Context, id int64, banned bool) (account.Account, error) {
	return s.mutateAccount(id, func(acct *account.Account) { acct.Banned = banned })
}

func (s *Store) SetAdmin(_ context.Context, id int64, admin bool) (account.Account, error) {
	return s.mutateAccount(id, func(acct *account.Account) { acct.IsAdmin = admin })
}

func (s *Store) mutateAccount(id int64, fn func(*account.Account)) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, sql.ErrNoRows
	}
	fn(&acct)
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[id] = acct
	return acct, nil
}

// UsageStore implementation ---------------------------------------------------

func (s *Store) GetCounter(_ context.Context, accountID int64, feature string) (usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctr, ok := s.counters[accountID][feature]
	if !ok {
		return usage.Counter{}, sql.ErrNoRows
	}
	return ctr, nil
}

func (s *Store) ListCounters(_ context.Context, accountID int64) ([]usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []usage.Counter
	for _, ctr := range s.counters[accountID] {
		result = append(result, ctr)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Feature < result[j].Feature })
	return result, nil
}

func (s *Store) IncrementCounter(_ context.Context, accountID int64, feature string) (usage.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return usage.Counter{}, sql.ErrNoRows
	}

	byFeature := s.counters[accountID]
	if byFeature == nil {
		byFeature = make(map[string]usage.Counter)
		s.counters[accountID] = byFeature
	}

	ctr, ok := byFeature[feature]
	if !ok {
		ctr = usage.Counter{AccountID: accountID, Feature: feature}
	}
	ctr.UsedCount++
	ctr.LastUsedAt = time.Now().UTC()
	byFeature[feature] = ctr
	return ctr, nil
}

// ProjectStore implementation -------------------------------------------------

func (s *Store) CreateProject(_ context.Context, proj project.Project) (project.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[proj.AccountID]; !ok {
		return project.Project{}, sql.ErrNoRows
	}
	if proj.ID == 0 {
		proj.ID = s.nextIDLocked()
	}
	proj.CreatedAt = time.Now().UTC()
	s.projects[proj.ID] = proj
	return proj, nil
}

func (s *Store) ListProjects(_ context.Context, accountID int64) ([]project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []project.Project
	for _, proj := range s.projects {
		if proj.AccountID == accountID {
			result = append(result, proj)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteProject(_ context.Context, accountID, projectID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj, ok := s.projects[projectID]
	if !ok || proj.AccountID != accountID {
		return sql.ErrNoRows
	}
	delete(s.projects, projectID)
	return nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreatePendingPayment(_ context.Context, p payment.PendingPayment) (payment.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.OrderID == "" {
		return payment.PendingPayment{}, fmt.Errorf("order id is required")
	}
	if _, exists := s.payments[p.OrderID]; exists {
		return payment.PendingPayment{}, fmt.Errorf("order %s already exists", p.OrderID)
	}
	if _, ok := s.accounts[p.AccountID]; !ok {
		return payment.PendingPayment{}, sql.ErrNoRows
	}

	now := time.Now().UTC()
	p.Status = payment.StatusPending
	p.CreatedAt = now
	p.UpdatedAt = now
	s.payments[p.OrderID] = p
	s.orderSeq = append(s.orderSeq, p.OrderID)
	return p, nil
}

func (s *Store) GetPendingPayment(_ context.Context, orderID string) (payment.PendingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[orderID]
	if !ok {
		return payment.PendingPayment{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *Store) ListPendingPayments(_ context.Context) ([]payment.PendingPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []payment.PendingPayment
	for _, orderID := range s.orderSeq {
		if p, ok := s.payments[orderID]; ok && p.Status == payment.StatusPending {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *Store) CompletePayment(_ context.Context, orderID, paymentID string) (payment.PendingPayment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[orderID]
	if !ok {
		return payment.PendingPayment{}, false, sql.ErrNoRows
	}
	if p.Status != payment.StatusPending {
		return p, false, nil
	}

	acct, ok := s.accounts[p.AccountID]
	if !ok {
		return payment.PendingPayment{}, false, sql.ErrNoRows
	}

	now := time.Now().UTC()
	p.Status = payment.StatusCompleted
	p.PaymentID = paymentID
	p.UpdatedAt = now
	s.payments[orderID] = p

	acct.Credits += p.Credits
	acct.UpdatedAt = now
	s.accounts[acct.ID] = acct

	return p, true, nil
}

func (s *Store) FailPayment(_ context.Context, orderID string) (payment.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[orderID]
	if !ok {
		return payment.PendingPayment{}, sql.ErrNoRows
	}
	if p.Status == payment.StatusPending {
		p.Status = payment.StatusFailed
		p.UpdatedAt = time.Now().UTC()
		s.payments[orderID] = p
	}
	return p, nil
}

package metering

import (
	"context"
	"errors"
	"testing"

	"github.com/stackgenhq/platform/internal/app/domain/account"
	"github.com/stackgenhq/platform/internal/app/storage/memory"
)

func newAccount(t *testing.T, store *memory.Store, credits int64) account.Account {
	t.Helper()
	acct, err := store.CreateAccount(context.Background(), account.Account{Email: "user@example.com", Credits: credits})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return acct
}

func TestFirstUseIsFree(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, Limits{}, nil)
	acct := newAccount(t, store, 0)

	allowed, err := svc.CheckUsageLimit(context.Background(), acct.ID, "docker_generation")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !allowed {
		t.Fatalf("first use should be allowed with zero credits")
	}

	ctr, err := svc.DeductCreditForUsage(context.Background(), acct.ID, "docker_generation")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if ctr.UsedCount != 1 {
		t.Fatalf("expected used count 1, got %d", ctr.UsedCount)
	}

	refreshed, err := store.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if refreshed.Credits != 0 {
		t.Fatalf("free use must not touch the balance, got %d", refreshed.Credits)
	}
}

func TestZeroCreditsDeniedPastAllowance(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, Limits{}, nil)
	acct := newAccount(t, store, 0)

	if _, err := svc.DeductCreditForUsage(context.Background(), acct.ID, "docker_generation"); err != nil {
		t.Fatalf("free use: %v", err)
	}

	allowed, err := svc.CheckUsageLimit(context.Background(), acct.ID, "docker_generation")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if allowed {
		t.Fatalf("second use with zero credits should be denied")
	}

	_, err = svc.DeductCreditForUsage(context.Background(), acct.ID, "docker_generation")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	ctrs, err := svc.Usage(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if len(ctrs) != 1 || ctrs[0].UsedCount != 1 {
		t.Fatalf("denied use must not advance the counter: %+v", ctrs)
	}
}

func TestDebitIsExactlyOneCredit(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, Limits{}, nil)
	acct := newAccount(t, store, 3)

	// Burn the free allowance first.
	if _, err := svc.DeductCreditForUsage(context.Background(), acct.ID, "docker_generation"); err != nil {
		t.Fatalf("free use: %v", err)
	}

	for want := int64(2); want >= 0; want-- {
		if _, err := svc.DeductCreditForUsage(context.Background(), acct.ID, "docker_generation"); err != nil {
			t.Fatalf("paid use: %v", err)
		}
		refreshed, err := store.GetAccount(context.Background(), acct.ID)
		if err != nil {
			t.Fatalf("get account: %v", err)
		}
		if refreshed.Credits != want {
			t.Fatalf("expected %d credits, got %d", want, refreshed.Credits)
		}
	}

	if _, err := svc.DeductCreditForUsage(context.Background(), acct.ID, "docker_generation"); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits on empty balance, got %v", err)
	}
}

func TestPerFeatureAllowanceOverride(t *testing.T) {
	store := memory.New()
	limits := Limits{FreeTier: FreeTierLimit(2), PerFeature: map[string]int64{"premium_scan": 0}}
	svc := New(store, nil, limits, nil)
	acct := newAccount(t, store, 0)

	// Explicit zero allowance means the very first use needs credits.
	if _, err := svc.DeductCreditForUsage(context.Background(), acct.ID, "premium_scan"); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// The global allowance still applies elsewhere.
	for i := 0; i < 2; i++ {
		if _, err := svc.DeductCreditForUsage(context.Background(), acct.ID, "docker_generation"); err != nil {
			t.Fatalf("free use %d: %v", i+1, err)
		}
	}
}

func TestGlobalZeroFreeTierDisablesAllowance(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, Limits{FreeTier: FreeTierLimit(0)}, nil)
	acct := newAccount(t, store, 0)

	// A global allowance of zero means every use needs credits, even the
	// very first one.
	allowed, err := svc.CheckUsageLimit(context.Background(), acct.ID, "docker_generation")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if allowed {
		t.Fatalf("zero global allowance must deny a zero-credit account")
	}
	if _, err := svc.DeductCreditForUsage(context.Background(), acct.ID, "docker_generation"); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// With a credit on the balance the use is paid, not free.
	if _, err := store.AddCredits(context.Background(), acct.ID, 1); err != nil {
		t.Fatalf("add credits: %v", err)
	}
	if _, err := svc.DeductCreditForUsage(context.Background(), acct.ID, "docker_generation"); err != nil {
		t.Fatalf("paid use: %v", err)
	}
	refreshed, err := store.GetAccount(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if refreshed.Credits != 0 {
		t.Fatalf("use under zero allowance must debit, balance %d", refreshed.Credits)
	}
}

func TestCounterIsMonotonicAcrossFeatures(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, Limits{FreeTier: FreeTierLimit(10)}, nil)
	acct := newAccount(t, store, 0)

	for i := 0; i < 3; i++ {
		if _, err := svc.RecordUse(context.Background(), acct.ID, "docker_generation"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := svc.RecordUse(context.Background(), acct.ID, "compose_generation"); err != nil {
		t.Fatalf("record: %v", err)
	}

	ctrs, err := svc.Usage(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	counts := map[string]int64{}
	for _, c := range ctrs {
		counts[c.Feature] = c.UsedCount
	}
	if counts["docker_generation"] != 3 || counts["compose_generation"] != 1 {
		t.Fatalf("unexpected counters: %+v", counts)
	}
}

type invalidatorSpy struct {
	calls []int64
}

func (s *invalidatorSpy) InvalidateAccount(_ context.Context, id int64) {
	s.calls = append(s.calls, id)
}

func TestRecordUseInvalidates(t *testing.T) {
	store := memory.New()
	spy := &invalidatorSpy{}
	svc := New(store, spy, Limits{}, nil)
	acct := newAccount(t, store, 0)

	if _, err := svc.RecordUse(context.Background(), acct.ID, "docker_generation"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(spy.calls) != 1 || spy.calls[0] != acct.ID {
		t.Fatalf("expected one invalidation for account %d, got %v", acct.ID, spy.calls)
	}
}

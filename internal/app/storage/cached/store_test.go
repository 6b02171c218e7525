package cached

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stackgenhq/platform/internal/app/cache"
	"github.com/stackgenhq/platform/internal/app/domain/account"
	"github.com/stackgenhq/platform/internal/app/storage"
	"github.com/stackgenhq/platform/internal/app/storage/memory"
)

// spyStore counts reads that reach the authoritative backend.
type spyStore struct {
	storage.Store
	accountReads int64
}

func (s *spyStore) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	atomic.AddInt64(&s.accountReads, 1)
	return s.Store.GetAccount(ctx, id)
}

func (s *spyStore) reads() int64 { return atomic.LoadInt64(&s.accountReads) }

// mapCache is an in-process Cache backend holding JSON-encoded values.
// TTLs are ignored; the decorator under test clears keys explicitly.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	b, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = b
	c.mu.Unlock()
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.mu.Unlock()
	return nil
}

func TestDisabledCachePassesThrough(t *testing.T) {
	spy := &spyStore{Store: memory.New()}
	store := New(spy, cache.New(cache.Config{}, nil), nil)
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "a@example.com", Credits: 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := store.GetAccount(ctx, acct.ID)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if got.ID != acct.ID {
			t.Fatalf("wrong account returned")
		}
	}
	if spy.reads() != 3 {
		t.Fatalf("disabled cache must pass every read through, got %d backend reads", spy.reads())
	}
}

func TestInvalidateAccountIdempotentWithoutCache(t *testing.T) {
	spy := &spyStore{Store: memory.New()}
	store := New(spy, cache.New(cache.Config{}, nil), nil)
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Invalidation of absent keys must be a safe no-op, repeatedly.
	store.InvalidateAccount(ctx, acct.ID)
	store.InvalidateAccount(ctx, acct.ID)
	store.InvalidateAccount(ctx, 99999)

	if _, err := store.GetAccount(ctx, acct.ID); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
}

func TestMutationsStillReachBackendWhenCacheDown(t *testing.T) {
	spy := &spyStore{Store: memory.New()}
	store := New(spy, cache.New(cache.Config{}, nil), nil)
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.AddCredits(ctx, acct.ID, 5); err != nil {
		t.Fatalf("add credits: %v", err)
	}
	debited, err := store.DebitCredit(ctx, acct.ID)
	if err != nil || !debited {
		t.Fatalf("debit: debited=%v err=%v", debited, err)
	}

	got, err := store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credits != 4 {
		t.Fatalf("expected 4 credits, got %d", got.Credits)
	}
}

// TestCacheAsideRepopulate drives the miss-populate-hit-invalidate cycle
// against an in-process cache backend.
func TestCacheAsideRepopulate(t *testing.T) {
	spy := &spyStore{Store: memory.New()}
	store := New(spy, newMapCache(), nil)
	ctx := context.Background()

	acct, err := store.CreateAccount(ctx, account.Account{Email: "a@example.com", Credits: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Miss populates the cache.
	if _, err := store.GetAccount(ctx, acct.ID); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if spy.reads() != 1 {
		t.Fatalf("expected 1 backend read after miss, got %d", spy.reads())
	}

	// Hit is served without touching the backend.
	got, err := store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if spy.reads() != 1 {
		t.Fatalf("expected cached hit, backend reads = %d", spy.reads())
	}
	if got.Credits != 1 {
		t.Fatalf("cached value mismatch: %+v", got)
	}

	// A mutation invalidates; the next read goes back to the store and
	// sees the new balance.
	if _, err := store.AddCredits(ctx, acct.ID, 3); err != nil {
		t.Fatalf("add credits: %v", err)
	}
	got, err = store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("third get: %v", err)
	}
	if spy.reads() != 2 {
		t.Fatalf("expected repopulating read after invalidation, backend reads = %d", spy.reads())
	}
	if got.Credits != 4 {
		t.Fatalf("expected fresh balance 4, got %d", got.Credits)
	}
}

// TestCacheAsideRepopulateRedis runs the same cycle against a live redis.
func TestCacheAsideRepopulateRedis(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping redis cache test")
	}

	client := cache.New(cache.Config{URL: url, Prefix: "cached-test"}, nil)
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	spy := &spyStore{Store: memory.New()}
	store := New(spy, client, nil)

	acct, err := store.CreateAccount(ctx, account.Account{Email: "a@example.com", Credits: 1})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	store.InvalidateAccount(ctx, acct.ID) // clean slate under the test prefix

	// Miss populates the cache.
	if _, err := store.GetAccount(ctx, acct.ID); err != nil {
		t.Fatalf("first get: %v", err)
	}
	if spy.reads() != 1 {
		t.Fatalf("expected 1 backend read after miss, got %d", spy.reads())
	}

	// Hit is served without touching the backend.
	got, err := store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if spy.reads() != 1 {
		t.Fatalf("expected cached hit, backend reads = %d", spy.reads())
	}
	if got.Credits != 1 {
		t.Fatalf("cached value mismatch: %+v", got)
	}

	// A mutation invalidates; the next read goes back to the store and
	// sees the new balance.
	if _, err := store.AddCredits(ctx, acct.ID, 3); err != nil {
		t.Fatalf("add credits: %v", err)
	}
	got, err = store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("third get: %v", err)
	}
	if spy.reads() != 2 {
		t.Fatalf("expected repopulating read after invalidation, backend reads = %d", spy.reads())
	}
	if got.Credits != 4 {
		t.Fatalf("expected fresh balance 4, got %d", got.Credits)
	}
}

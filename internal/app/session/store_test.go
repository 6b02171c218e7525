package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, err := store.Create(ctx, 7, time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" || rec.AccountID != 7 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.ExpiresAt.After(rec.CreatedAt) {
		t.Fatalf("expiry not in the future: %+v", rec)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("wrong session returned")
	}

	if err := store.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again is not an error.
	if err := store.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec, err := store.Create(ctx, 7, time.Nanosecond)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := store.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session should be absent, got %v", err)
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	store := NewMemoryStore()

	rec, err := store.Create(context.Background(), 7, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	lifetime := rec.ExpiresAt.Sub(rec.CreatedAt)
	if lifetime != DefaultTTL {
		t.Fatalf("expected default TTL %s, got %s", DefaultTTL, lifetime)
	}
}

func TestSelectFallsBackToMemory(t *testing.T) {
	// No redis URL and no database leaves only the in-process backend.
	store := Select(context.Background(), "", nil, nil)
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestSelectUnreachableRedisFallsBack(t *testing.T) {
	store := Select(context.Background(), "redis://192.0.2.1:6379", nil, nil)
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected fallback to memory store, got %T", store)
	}
}

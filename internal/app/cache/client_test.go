package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDisabledClientIsInert(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"empty url", Config{}},
		{"unparsable url", Config{URL: "::not-a-url::"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(tc.cfg, nil)
			ctx := context.Background()

			if c.Connected() {
				t.Fatalf("client should be disabled")
			}
			if err := c.Connect(ctx); err != nil {
				t.Fatalf("connect on disabled client must be a no-op, got %v", err)
			}

			var dest string
			hit, err := c.Get(ctx, "k", &dest)
			if hit || err != nil {
				t.Fatalf("disabled get: hit=%v err=%v", hit, err)
			}
			if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
				t.Fatalf("disabled set: %v", err)
			}
			if err := c.Delete(ctx, "k"); err != nil {
				t.Fatalf("disabled delete: %v", err)
			}
			if err := c.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
		})
	}
}

func TestConnectFailureDisablesForever(t *testing.T) {
	// Reserved TEST-NET address; nothing listens there.
	c := New(Config{URL: "redis://192.0.2.1:6379", DialTimeout: 100 * time.Millisecond}, nil)

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatalf("expected informational connect error")
	}
	var cacheErr *Error
	if !errors.As(err, &cacheErr) || cacheErr.Op != "connect" {
		t.Fatalf("expected *Error with op connect, got %v", err)
	}

	if c.Connected() {
		t.Fatalf("client must stay disabled after a failed connect")
	}

	// Subsequent operations degrade to no-ops rather than retrying.
	var dest string
	hit, err := c.Get(context.Background(), "k", &dest)
	if hit || err != nil {
		t.Fatalf("get after failed connect: hit=%v err=%v", hit, err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect should be a no-op, got %v", err)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/stackgenhq/platform/internal/app/domain/account"
	"github.com/stackgenhq/platform/internal/app/domain/payment"
	"github.com/stackgenhq/platform/internal/app/domain/project"
	"github.com/stackgenhq/platform/internal/platform/migrations"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := New(db)

	acct, err := store.CreateAccount(ctx, account.Account{Email: "it-" + t.Name() + "@example.com", Credits: 2})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := store.IncrementCounter(ctx, acct.ID, "docker_generation"); err != nil {
		t.Fatalf("increment counter: %v", err)
	}
	ctr, err := store.IncrementCounter(ctx, acct.ID, "docker_generation")
	if err != nil {
		t.Fatalf("increment counter: %v", err)
	}
	if ctr.UsedCount != 2 {
		t.Fatalf("expected used count 2, got %d", ctr.UsedCount)
	}

	for i := 0; i < 2; i++ {
		debited, err := store.DebitCredit(ctx, acct.ID)
		if err != nil || !debited {
			t.Fatalf("debit %d: debited=%v err=%v", i, debited, err)
		}
	}
	debited, err := store.DebitCredit(ctx, acct.ID)
	if err != nil {
		t.Fatalf("debit on empty: %v", err)
	}
	if debited {
		t.Fatalf("empty balance must not debit")
	}

	proj, err := store.CreateProject(ctx, project.Project{AccountID: acct.ID, Name: "demo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := store.DeleteProject(ctx, acct.ID, proj.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}

	p, err := store.CreatePendingPayment(ctx, payment.PendingPayment{
		OrderID:     "it-order-" + t.Name(),
		AccountID:   acct.ID,
		Credits:     5,
		AmountPaise: 50000,
	})
	if err != nil {
		t.Fatalf("create pending payment: %v", err)
	}
	if _, credited, err := store.CompletePayment(ctx, p.OrderID, "it-pay-1"); err != nil || !credited {
		t.Fatalf("complete: credited=%v err=%v", credited, err)
	}
	if _, credited, err := store.CompletePayment(ctx, p.OrderID, "it-pay-1"); err != nil || credited {
		t.Fatalf("replay: credited=%v err=%v", credited, err)
	}

	refreshed, err := store.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if refreshed.Credits != 5 {
		t.Fatalf("expected 5 credits after settle, got %d", refreshed.Credits)
	}
}

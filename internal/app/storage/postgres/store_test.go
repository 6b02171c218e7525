package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/stackgenhq/platform/internal/app/domain/payment"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return New(db), mock, func() { db.Close() }
}

func TestDebitCreditAffectedRows(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectExec(`UPDATE accounts`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	debited, err := store.DebitCredit(context.Background(), 7)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !debited {
		t.Fatalf("expected debit to report success")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitCreditZeroBalance(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	// The guarded UPDATE matches no row when credits are exhausted.
	mock.ExpectExec(`UPDATE accounts`).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	debited, err := store.DebitCredit(context.Background(), 7)
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if debited {
		t.Fatalf("zero balance must not debit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIncrementCounterUpsert(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO usage_counters`).
		WithArgs(int64(7), "docker_generation", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "feature", "used_count", "last_used_at"}).
			AddRow(int64(7), "docker_generation", int64(4), now))

	ctr, err := store.IncrementCounter(context.Background(), 7, "docker_generation")
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ctr.UsedCount != 4 || ctr.Feature != "docker_generation" {
		t.Fatalf("unexpected counter: %+v", ctr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetCounterAbsentRow(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectQuery(`SELECT account_id, feature, used_count, last_used_at`).
		WithArgs(int64(7), "docker_generation").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetCounter(context.Background(), 7, "docker_generation")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func paymentRows(status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"order_id", "account_id", "credits", "amount_paise", "status", "payment_id", "created_at", "updated_at"}).
		AddRow("order_1", int64(7), int64(3), int64(30000), status, "", now, now)
}

func TestCompletePaymentCreditsOnce(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pending_payments`).
		WithArgs("order_1", payment.StatusCompleted, "pay_1", sqlmock.AnyArg(), payment.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT order_id, account_id, credits`).
		WithArgs("order_1").
		WillReturnRows(paymentRows(payment.StatusCompleted))
	mock.ExpectExec(`UPDATE accounts`).
		WithArgs(int64(7), int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, credited, err := store.CompletePayment(context.Background(), "order_1", "pay_1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !credited {
		t.Fatalf("first completion must credit")
	}
	if p.AccountID != 7 || p.Credits != 3 {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompletePaymentReplayIsNoOp(t *testing.T) {
	store, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pending_payments`).
		WithArgs("order_1", payment.StatusCompleted, "pay_1", sqlmock.AnyArg(), payment.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT order_id, account_id, credits`).
		WithArgs("order_1").
		WillReturnRows(paymentRows(payment.StatusCompleted))
	mock.ExpectCommit()

	p, credited, err := store.CompletePayment(context.Background(), "order_1", "pay_1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if credited {
		t.Fatalf("replay must not credit again")
	}
	if p.Status != payment.StatusCompleted {
		t.Fatalf("expected completed record back, got %q", p.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

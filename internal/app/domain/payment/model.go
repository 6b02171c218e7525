package payment

import "time"

// Status of a pending payment. A payment transitions from pending to
// completed (or failed) exactly once.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PendingPayment records a credit top-up order opened with the payment
// gateway. The gateway order identifier is the primary key.
type PendingPayment struct {
	OrderID     string
	AccountID   int64
	Credits     int64
	AmountPaise int64
	Status      string
	PaymentID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Package billing opens credit top-up orders and settles verified payments
// against the account balance.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/stackgenhq/platform/internal/app/domain/payment"
	"github.com/stackgenhq/platform/internal/app/metrics"
	"github.com/stackgenhq/platform/internal/app/storage"
	"github.com/stackgenhq/platform/pkg/logger"
)

var (
	// ErrSignatureMismatch means the webhook payload failed HMAC
	// verification. Fail closed: nothing is credited.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrPaymentNotCaptured means the signature was valid but the gateway
	// does not report the money as captured.
	ErrPaymentNotCaptured = errors.New("payment not captured by gateway")
	// ErrGatewayUnavailable means no gateway client is configured.
	ErrGatewayUnavailable = errors.New("payment gateway not configured")
)

// Service verifies payment completions and credits accounts. The signature
// check proves the message came from the gateway; the status fetch proves
// the gateway actually captured the money. Both must pass before a single
// credit moves.
type Service struct {
	store            storage.PaymentStore
	gateway          Gateway
	keySecret        string
	creditPricePaise int64
	log              *logger.Logger
}

// New constructs a billing service. gateway may be nil, in which case order
// creation and settlement fail closed with ErrGatewayUnavailable.
func New(store storage.PaymentStore, gateway Gateway, keySecret string, creditPricePaise int64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("billing")
	}
	if creditPricePaise <= 0 {
		creditPricePaise = 10000 // ₹100 per credit
	}
	return &Service{
		store:            store,
		gateway:          gateway,
		keySecret:        keySecret,
		creditPricePaise: creditPricePaise,
		log:              log,
	}
}

// VerifySignature reports whether signature is the gateway's HMAC over
// orderID and paymentID. Pure; safe on malformed input.
func (s *Service) VerifySignature(orderID, paymentID, signature string) bool {
	return verifySignature(s.keySecret, orderID, paymentID, signature)
}

// CreateOrder opens a gateway order for the requested credits and records
// the pending payment keyed by the gateway order id.
func (s *Service) CreateOrder(ctx context.Context, accountID, credits int64) (payment.PendingPayment, error) {
	if credits <= 0 {
		return payment.PendingPayment{}, fmt.Errorf("credits must be positive")
	}
	if s.gateway == nil {
		return payment.PendingPayment{}, ErrGatewayUnavailable
	}

	amount := credits * s.creditPricePaise
	receipt := uuid.NewString()
	orderID, err := s.gateway.CreateOrder(ctx, amount, receipt)
	if err != nil {
		return payment.PendingPayment{}, fmt.Errorf("create gateway order: %w", err)
	}

	p, err := s.store.CreatePendingPayment(ctx, payment.PendingPayment{
		OrderID:     orderID,
		AccountID:   accountID,
		Credits:     credits,
		AmountPaise: amount,
	})
	if err != nil {
		return payment.PendingPayment{}, err
	}
	s.log.Infof("opened order %s for account %d (%d credits)", orderID, accountID, credits)
	return p, nil
}

// ProcessSuccessfulPayment settles a payment-completion webhook. The flow
// fails closed at each step: signature first, then the gateway's own view
// of the payment and order, and only then the idempotent credit. Replaying
// a settled webhook returns the completed record without crediting again.
func (s *Service) ProcessSuccessfulPayment(ctx context.Context, orderID, paymentID, signature string) (payment.PendingPayment, error) {
	if !s.VerifySignature(orderID, paymentID, signature) {
		metrics.ObservePaymentRejected("signature")
		s.log.Errorf("signature mismatch for order %s payment %s", orderID, paymentID)
		return payment.PendingPayment{}, ErrSignatureMismatch
	}
	if s.gateway == nil {
		return payment.PendingPayment{}, ErrGatewayUnavailable
	}

	pay, err := s.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return payment.PendingPayment{}, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	if pay.OrderID != "" && pay.OrderID != orderID {
		metrics.ObservePaymentRejected("order_mismatch")
		s.log.Errorf("payment %s belongs to order %s, not %s", paymentID, pay.OrderID, orderID)
		return payment.PendingPayment{}, ErrPaymentNotCaptured
	}

	captured := pay.Status == PaymentStatusCaptured
	if !captured {
		// The payment may have been captured through the order flow; ask
		// for the order before rejecting.
		order, err := s.gateway.FetchOrder(ctx, orderID)
		if err != nil {
			return payment.PendingPayment{}, fmt.Errorf("fetch order %s: %w", orderID, err)
		}
		captured = order.Status == OrderStatusPaid
	}
	if !captured {
		metrics.ObservePaymentRejected("not_captured")
		s.log.Errorf("gateway reports payment %s as %q; refusing to credit", paymentID, pay.Status)
		return payment.PendingPayment{}, ErrPaymentNotCaptured
	}

	p, credited, err := s.store.CompletePayment(ctx, orderID, paymentID)
	if err != nil {
		return payment.PendingPayment{}, err
	}
	if credited {
		metrics.ObservePaymentCompleted()
		s.log.Infof("credited %d credits to account %d for order %s", p.Credits, p.AccountID, orderID)
	} else {
		s.log.Infof("order %s already settled; webhook replay ignored", orderID)
	}
	return p, nil
}

// PendingPayments lists orders still awaiting settlement.
func (s *Service) PendingPayments(ctx context.Context) ([]payment.PendingPayment, error) {
	return s.store.ListPendingPayments(ctx)
}

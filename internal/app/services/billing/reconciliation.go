package billing

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stackgenhq/platform/internal/app/domain/payment"
	"github.com/stackgenhq/platform/internal/app/storage"
	"github.com/stackgenhq/platform/internal/app/system"
	"github.com/stackgenhq/platform/pkg/logger"
)

// ReconciliationPoller periodically re-queries the gateway for orders stuck
// in pending: webhooks get lost, and a paid order with no delivered webhook
// would otherwise never credit. Orders the gateway reports as paid are
// settled through the same idempotent path the webhook uses; orders still
// unpaid after the expiry window are marked failed.
type ReconciliationPoller struct {
	store    storage.PaymentStore
	gateway  Gateway
	schedule string
	grace    time.Duration
	expiry   time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*ReconciliationPoller)(nil)

// NewReconciliationPoller builds a poller. The schedule is a cron
// expression; an empty one defaults to every ten minutes.
func NewReconciliationPoller(store storage.PaymentStore, gateway Gateway, schedule string, log *logger.Logger) *ReconciliationPoller {
	if log == nil {
		log = logger.NewDefault("billing-reconciliation")
	}
	if schedule == "" {
		schedule = "@every 10m"
	}
	return &ReconciliationPoller{
		store:    store,
		gateway:  gateway,
		schedule: schedule,
		grace:    10 * time.Minute,
		expiry:   24 * time.Hour,
		log:      log,
	}
}

func (p *ReconciliationPoller) Name() string { return "billing-reconciliation" }

func (p *ReconciliationPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() { p.sweep(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	p.cron = c
	p.running = true

	p.log.Infof("payment reconciliation scheduled (%s)", p.schedule)
	return nil
}

func (p *ReconciliationPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.cron
	p.running = false
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ReconciliationPoller) sweep(ctx context.Context) {
	pending, err := p.store.ListPendingPayments(ctx)
	if err != nil {
		p.log.WithError(err).Warn("list pending payments failed")
		return
	}

	now := time.Now().UTC()
	for _, pp := range pending {
		age := now.Sub(pp.CreatedAt)
		if age < p.grace {
			continue
		}
		p.reconcile(ctx, pp, age)
	}
}

func (p *ReconciliationPoller) reconcile(ctx context.Context, pp payment.PendingPayment, age time.Duration) {
	if p.gateway == nil {
		return
	}

	order, err := p.gateway.FetchOrder(ctx, pp.OrderID)
	if err != nil {
		p.log.WithError(err).Warnf("fetch order %s failed", pp.OrderID)
		return
	}

	if order.Status == OrderStatusPaid {
		paymentID := p.capturedPaymentID(ctx, pp.OrderID)
		if paymentID == "" {
			p.log.Warnf("order %s paid but no captured payment visible yet", pp.OrderID)
			return
		}
		if _, credited, err := p.store.CompletePayment(ctx, pp.OrderID, paymentID); err != nil {
			p.log.WithError(err).Warnf("settle order %s failed", pp.OrderID)
		} else if credited {
			p.log.Infof("order %s settled by reconciliation", pp.OrderID)
		}
		return
	}

	if age > p.expiry {
		if _, err := p.store.FailPayment(ctx, pp.OrderID); err != nil {
			p.log.WithError(err).Warnf("expire order %s failed", pp.OrderID)
			return
		}
		p.log.Infof("order %s expired unpaid after %s", pp.OrderID, age.Round(time.Minute))
	}
}

func (p *ReconciliationPoller) capturedPaymentID(ctx context.Context, orderID string) string {
	payments, err := p.gateway.FetchOrderPayments(ctx, orderID)
	if err != nil {
		p.log.WithError(err).Warnf("list payments for order %s failed", orderID)
		return ""
	}
	for _, pay := range payments {
		if pay.Status == PaymentStatusCaptured {
			return pay.ID
		}
	}
	return ""
}

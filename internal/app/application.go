// Package app assembles the platform: storage, cache, sessions, metering
// and billing, under one lifecycle manager.
package app

import (
	"context"
	"fmt"

	"github.com/stackgenhq/platform/internal/app/cache"
	"github.com/stackgenhq/platform/internal/app/services/billing"
	"github.com/stackgenhq/platform/internal/app/services/metering"
	"github.com/stackgenhq/platform/internal/app/session"
	"github.com/stackgenhq/platform/internal/app/storage"
	"github.com/stackgenhq/platform/internal/app/storage/cached"
	"github.com/stackgenhq/platform/internal/app/storage/memory"
	"github.com/stackgenhq/platform/internal/app/system"
	"github.com/stackgenhq/platform/pkg/logger"
)

// Options carries the application's external dependencies. Nil fields fall
// back to in-process defaults: a memory store, a disabled cache and memory
// sessions.
type Options struct {
	Store    storage.Store
	Cache    *cache.Client
	Sessions session.Store

	Gateway           billing.Gateway
	PaymentKeySecret  string
	CreditPricePaise  int64
	ReconcileSchedule string
	DisableReconciler bool

	Metering metering.Limits
}

// Application ties the services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	// Store is the cache-decorated store; handlers read through it.
	Store *cached.Store
	// Sessions is the selected session backend.
	Sessions session.Store

	Metering *metering.Service
	Billing  *billing.Service
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Store == nil {
		opts.Store = memory.New()
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.Config{}, log)
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewMemoryStore()
	}

	store := cached.New(opts.Store, opts.Cache, log)

	// Metering decisions read the authoritative store directly; the cached
	// wrapper only lends its invalidation hook.
	meterService := metering.New(opts.Store, store, opts.Metering, log)
	billingService := billing.New(store, opts.Gateway, opts.PaymentKeySecret, opts.CreditPricePaise, log)

	manager := system.NewManager()
	for _, name := range []string{"metering", "billing"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if opts.Gateway != nil && !opts.DisableReconciler {
		poller := billing.NewReconciliationPoller(store, opts.Gateway, opts.ReconcileSchedule, log)
		if err := manager.Register(poller); err != nil {
			return nil, fmt.Errorf("register %s: %w", poller.Name(), err)
		}
	} else if opts.Gateway == nil {
		log.Warn("payment gateway not configured; order creation and settlement disabled")
	}

	return &Application{
		manager:  manager,
		log:      log,
		Store:    store,
		Sessions: opts.Sessions,
		Metering: meterService,
		Billing:  billingService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and closes the session backend.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if cerr := a.Sessions.Close(); err == nil {
		err = cerr
	}
	return err
}

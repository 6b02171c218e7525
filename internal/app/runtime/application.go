// Package runtime wires configuration, storage, cache, sessions and the
// HTTP server into a runnable process.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/stackgenhq/platform/internal/app"
	"github.com/stackgenhq/platform/internal/app/cache"
	"github.com/stackgenhq/platform/internal/app/httpapi"
	"github.com/stackgenhq/platform/internal/app/metrics"
	"github.com/stackgenhq/platform/internal/app/services/billing"
	"github.com/stackgenhq/platform/internal/app/services/metering"
	"github.com/stackgenhq/platform/internal/app/session"
	"github.com/stackgenhq/platform/internal/app/storage"
	"github.com/stackgenhq/platform/internal/app/storage/postgres"
	"github.com/stackgenhq/platform/internal/config"
	"github.com/stackgenhq/platform/internal/middleware"
	"github.com/stackgenhq/platform/internal/platform/migrations"
	"github.com/stackgenhq/platform/pkg/logger"
)

// Application owns process-level resources and the HTTP server lifecycle.
type Application struct {
	cfg    config.Config
	log    *logger.Logger
	app    *app.Application
	server *http.Server
	db     *sql.DB
	cache  *cache.Client
}

// NewApplication builds the full process from configuration at configPath
// ("" uses defaults plus environment).
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logging)

	var (
		db    *sql.DB
		store storage.Store
	)
	if cfg.Database.URL != "" {
		db, err = openDatabase(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = migrations.Apply(migrateCtx, db)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		store = postgres.New(db)
		log.Infof("storage backed by postgres")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	// Cache connectivity is best-effort: a dead redis degrades the cache
	// to a no-op, it never stops the process.
	cacheClient := cache.New(cache.Config{URL: cfg.Cache.URL, Prefix: cfg.Cache.Prefix}, log)
	if err := cacheClient.Connect(context.Background()); err != nil {
		log.WithError(err).Warn("cache disabled")
	}

	sessions := session.Select(context.Background(), cfg.Session.RedisURL, db, log)

	var gateway billing.Gateway
	if cfg.Billing.KeyID != "" && cfg.Billing.KeySecret != "" {
		gateway, err = billing.NewHTTPGateway(nil, cfg.Billing.Endpoint, cfg.Billing.KeyID, cfg.Billing.KeySecret, log)
		if err != nil {
			return nil, fmt.Errorf("configure payment gateway: %w", err)
		}
	}

	application, err := app.New(app.Options{
		Store:             store,
		Cache:             cacheClient,
		Sessions:          sessions,
		Gateway:           gateway,
		PaymentKeySecret:  cfg.Billing.KeySecret,
		CreditPricePaise:  cfg.Billing.CreditPricePaise,
		ReconcileSchedule: cfg.Billing.ReconcileSchedule,
		DisableReconciler: cfg.Billing.DisableReconciler,
		Metering: metering.Limits{
			FreeTier:   metering.FreeTierLimit(cfg.Metering.FreeTierLimit),
			PerFeature: cfg.Metering.PerFeature,
		},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("assemble application: %w", err)
	}

	var auth *middleware.Auth
	if cfg.Session.Secret != "" {
		auth = middleware.NewAuth(cfg.Session.Secret, sessions, log,
			"/healthz", "/metrics", "/accounts", "/sessions", "/billing/webhook")
	} else {
		log.Warn("SESSION_SECRET not set; API authentication disabled")
	}

	api := httpapi.NewHandler(application, nil, auth)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", api)

	var handler http.Handler = mux
	if auth != nil {
		handler = auth.Handler(handler)
	}
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, log)
		handler = limiter.Handler(handler)
	}
	handler = metrics.InstrumentHTTP(handler)
	handler = middleware.CORS(handler)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		app:    application,
		server: server,
		db:     db,
		cache:  cacheClient,
	}, nil
}

// Run starts the background services and the HTTP server and blocks until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server and releases process resources in reverse
// order of acquisition.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.WithError(err).Warn("error closing cache client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

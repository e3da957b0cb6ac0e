package cli

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/checkout"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/contracts"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/config"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/payment"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/subscription"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/logging"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infra/metrics"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/checkoutapi"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/eventbus"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/outbox"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/persistence/inmemory"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/persistence/sqlite"
)

// app holds the wiring shared by serve and pay.
type app struct {
	cfg     *config.Config
	logger  *logging.SlogLogger
	metrics *metrics.Counters
	client  *checkoutapi.Client
	bus     *eventbus.InMemoryBus

	history       payment.Repository
	subscriptions subscription.Repository
	recorder      contracts.EventRecorder
	// dispatcher is nil when events go straight to the bus.
	dispatcher *outbox.Dispatcher
	db         *sql.DB
}

func newApp(cfg *config.Config) (*app, error) {
	logger := logging.NewSlogLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	bus := eventbus.NewInMemoryBus()

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: &metrics.Counters{},
		client:  checkoutapi.NewClient(cfg.API.BaseURL, cfg.APIPaths(), cfg.API.Timeout),
		bus:     bus,
	}

	if cfg.Storage.SQLitePath == "" {
		a.history = inmemory.NewPaymentRepository()
		a.subscriptions = inmemory.NewSubscriptionRepository()
		a.recorder = bus
		return a, nil
	}

	db, err := sqlite.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Storage.SQLitePath, err)
	}
	if err := sqlite.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.Storage.SQLitePath, err)
	}

	outboxRepo := outbox.NewSQLiteRepository(db)

	a.db = db
	a.history = sqlite.NewPaymentRepository(db)
	a.subscriptions = sqlite.NewSubscriptionRepository(db)
	a.recorder = &outbox.Recorder{Repo: outboxRepo}
	a.dispatcher = &outbox.Dispatcher{
		Repo:         outboxRepo,
		EventBus:     bus,
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		Logger:       logger.With(map[string]any{"component": "outbox"}),
	}

	return a, nil
}

func (a *app) newFlow(p checkout.Params) (*checkout.Flow, error) {
	return checkout.NewFlow(p, checkout.Deps{
		Gateway:  a.client,
		Recorder: a.recorder,
		History:  a.history,
		Logger:   a.logger.With(map[string]any{"component": "checkout", "owner": p.Owner}),
		Metrics:  a.metrics,
	}, a.cfg.CheckoutConfig())
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

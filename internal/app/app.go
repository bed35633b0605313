// Package app wires storage, the remote gateway, the stores, the ledger and
// the synchronizer into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ganancias/internal/amqp"
	"ganancias/internal/backend"
	"ganancias/internal/config"
	"ganancias/internal/core"
	"ganancias/internal/log"
	"ganancias/internal/remote"
	"ganancias/internal/services"
	"ganancias/internal/storage"
	"ganancias/internal/store"
	"ganancias/internal/tasks"
	"ganancias/internal/worker"
)

// Storage keys, one serialized collection each.
const (
	KeyBoxes          = "registro-ganancias-boxes"
	KeyExpenses       = "registro-ganancias-expenses"
	KeyExpenseBoxes   = "registro-ganancias-expensesboxes"
	KeyWeeklyBalances = "registro-ganancias-weeklybalances"
	KeyHistory        = "registro-ganancias-history"
)

// changeDebounce collapses bursts of change messages for one collection.
const changeDebounce = 2 * time.Second

type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Runner  *tasks.Runner
	Gateway *remote.Gateway
	Stores  *services.Stores
	Ledger  *services.Ledger
	Sync    *services.SyncService

	cleanup   func() error
	broker    *amqp.Client
	processor *services.SyncProcessor
	unsub     []func()
}

// Options overrides the parts of the wiring tests need to control.
type Options struct {
	// Network replaces the device network check of the reachability probe.
	Network remote.NetworkStatus
	// Now replaces the stores' clock.
	Now func() time.Time
}

// New opens the configured backend and loads every collection from it.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("backend config: %w", err)
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	client, err := remote.NewClient(cfg.APIURL, remote.Options{
		Timeout:      cfg.RemoteTimeout,
		ProbeTimeout: cfg.ProbeTimeout,
		Network:      opts.Network,
		Logger:       logger.WithComponent(log.ComponentRemote).Logger,
	})
	if err != nil {
		if res.Cleanup != nil {
			_ = res.Cleanup()
		}
		return nil, fmt.Errorf("remote client: %w", err)
	}
	gateway := remote.NewGateway(client, cfg.ControlsResource)
	logger.Info("Remote gateway configured", "api_url", client.BaseURL(), "controls", cfg.ControlsResource)

	storeLogger := logger.WithComponent(log.ComponentStore).Logger
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Runner:  tasks.NewRunner(storeLogger, nil),
		Gateway: gateway,
		cleanup: res.Cleanup,
	}
	a.Stores = openStores(ctx, a, res.Store, storeLogger, opts.Now)
	a.Ledger = services.NewLedger(a.Stores).WithLogger(logger.WithComponent(log.ComponentLedger).Logger)
	a.Sync = services.NewSyncService(gateway, nil, a.Stores)

	logger.Info("Stores loaded",
		"boxes", len(a.Stores.Boxes.All()),
		"history", len(a.Stores.History.All()),
		"expenses", len(a.Stores.Expenses.All()),
		"backend", backendCfg.Type)
	return a, nil
}

func openStores(ctx context.Context, a *App, kv storage.KV, logger *slog.Logger, now func() time.Time) *services.Stores {
	g := a.Gateway
	return &services.Stores{
		Boxes: store.NewBoxStore(ctx, store.Config[core.Box]{
			Kind: "box", Key: KeyBoxes, KV: kv, Remote: g.Boxes, Probe: g,
			Runner: a.Runner, Logger: logger, Now: now,
		}, g.Controls),
		History: store.New[core.Submission](ctx, store.Config[core.Submission]{
			Kind: "history", Key: KeyHistory, KV: kv, Remote: g.History, Probe: g,
			Runner: a.Runner, Logger: logger, Now: now,
		}),
		Expenses: store.New[core.Expense](ctx, store.Config[core.Expense]{
			Kind: "expense", Key: KeyExpenses, KV: kv, Remote: g.Expenses, Probe: g,
			Runner: a.Runner, Logger: logger, Now: now,
		}),
		ExpenseBoxes: store.New[core.ExpenseBox](ctx, store.Config[core.ExpenseBox]{
			Kind: "expensebox", Key: KeyExpenseBoxes, KV: kv, Remote: g.ExpenseBoxes, Probe: g,
			Runner: a.Runner, Logger: logger, Now: now,
		}),
		WeeklyBalances: store.New[core.WeeklyBalance](ctx, store.Config[core.WeeklyBalance]{
			Kind: "weeklybalance", Key: KeyWeeklyBalances, KV: kv, Remote: g.WeeklyBalances, Probe: g,
			Runner: a.Runner, Logger: logger, Now: now,
		}),
	}
}

// EnableFeed publishes every store mutation to the broker and consumes the
// change queue, running a targeted sync per message. It is a no-op when no
// AMQP URL is configured.
func (a *App) EnableFeed(ctx context.Context) error {
	if a.Config.AMQPURL == "" {
		a.Logger.Info("Change feed disabled, no AMQP_URL provided")
		return nil
	}
	client, err := amqp.NewClient(a.Config.AMQPURL, a.Config.AMQPExchange, a.Config.AMQPQueue)
	if err != nil {
		return fmt.Errorf("connect change feed: %w", err)
	}
	a.broker = client
	a.subscribe(ctx, amqp.NewFeed(client, a.Runner))

	w := worker.NewSyncWorker(a.Sync, changeDebounce).WithLogger(a.Logger.WithComponent(log.ComponentWorker).Logger)
	amqpLogger := a.Logger.WithComponent(log.ComponentAMQP)
	go func() {
		if err := client.ConsumeChanges(ctx, w.HandleChangeMessage); err != nil && !errors.Is(err, context.Canceled) {
			amqpLogger.Error("Change consumption stopped", log.FieldError, err)
		}
	}()
	amqpLogger.Info("Change feed enabled", "exchange", a.Config.AMQPExchange, "queue", a.Config.AMQPQueue)
	return nil
}

func (a *App) subscribe(ctx context.Context, feed *amqp.Feed) {
	h := feed.Handler(ctx)
	a.unsub = append(a.unsub,
		a.Stores.Boxes.Subscribe(h),
		a.Stores.History.Subscribe(h),
		a.Stores.Expenses.Subscribe(h),
		a.Stores.ExpenseBoxes.Subscribe(h),
		a.Stores.WeeklyBalances.Subscribe(h),
	)
}

// StartSyncLoop runs SyncAll every configured interval. A zero interval
// leaves the loop off.
func (a *App) StartSyncLoop(ctx context.Context) error {
	if a.Config.SyncInterval <= 0 {
		a.Logger.Info("Periodic sync disabled, SYNC_INTERVAL is zero")
		return nil
	}
	a.processor = services.NewSyncProcessor(a.Sync, services.SyncProcessorConfig{Interval: a.Config.SyncInterval})
	return a.processor.Start(ctx)
}

// Close stops the loops, waits for background remote calls and releases the
// backend.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.processor != nil {
		if err := a.processor.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, cancel := range a.unsub {
		cancel()
	}
	if err := a.Runner.WaitContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for background tasks: %w", err))
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close change feed: %w", err))
		}
	}
	if a.cleanup != nil {
		if err := a.cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	a.Logger.Info("Application closed")
	return errors.Join(errs...)
}

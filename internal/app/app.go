// Package app assembles the queue, synchronizer, executor and their supporting
// components from a config.Config and runs them as one unit.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/livinlefevreloca/stakequeue/internal/config"
	"github.com/livinlefevreloca/stakequeue/internal/connectivity"
	"github.com/livinlefevreloca/stakequeue/internal/db"
	"github.com/livinlefevreloca/stakequeue/internal/events"
	"github.com/livinlefevreloca/stakequeue/internal/executor"
	"github.com/livinlefevreloca/stakequeue/internal/metrics"
	"github.com/livinlefevreloca/stakequeue/internal/notifier"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/queue/kvstore"
	"github.com/livinlefevreloca/stakequeue/internal/snapshot"
	"github.com/livinlefevreloca/stakequeue/internal/stats"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
)

// App owns every long-running component
type App struct {
	config *config.Config
	logger *slog.Logger

	database  *db.DB
	store     queue.Store
	bus       *events.Bus
	monitor   *connectivity.Monitor
	prober    *connectivity.Prober
	bridge    *executor.Bridge
	refresher *snapshot.Refresher
	syncer    *syncer.Synchronizer
	stats     *stats.StatsCollector
	notifier  *notifier.Notifier
	registry  *prometheus.Registry
	metrics   metrics.SyncMetrics
	service   *Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenStore opens the configured queue backend. The returned *db.DB is nil
// for the Badger backend.
func OpenStore(cfg *config.Config, clock queue.Clock, logger *slog.Logger) (queue.Store, *db.DB, error) {
	switch cfg.Store.Backend {
	case config.BackendSQL:
		database, err := db.OpenWithConfig(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		store, err := queue.NewSQLStore(database, cfg.Store.Limits, clock, logger.With("component", "store"))
		if err != nil {
			database.Close()
			return nil, nil, err
		}
		return store, database, nil

	case config.BackendBadger:
		store, err := kvstore.Open(cfg.Store.Badger, cfg.Store.Limits, clock, logger.With("component", "store"))
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// New builds every component described by cfg. Nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a = &App{config: cfg, logger: logger}

	store, database, err := OpenStore(cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	a.store, a.database = store, database
	defer func() {
		if err != nil {
			store.Close()
		}
	}()

	a.bus, err = events.NewBus(cfg.Events, logger.With("component", "events"))
	if err != nil {
		return nil, err
	}

	a.monitor = connectivity.NewMonitor(cfg.Connectivity.InitialOnline, logger.With("component", "connectivity"))
	if cfg.Connectivity.ProbeURL != "" {
		a.prober, err = connectivity.NewProber(cfg.Connectivity, a.monitor, logger.With("component", "prober"))
		if err != nil {
			return nil, err
		}
	}

	a.metrics = metrics.NewNoopCollector()
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.NewSyncCollector(a.registry)
	}
	a.bus.OnDrop(a.metrics.EventDropped)

	var (
		exec   syncer.Executor
		reader snapshot.AccountReader
	)
	switch cfg.Executor.Mode {
	case executor.ModeBridge:
		a.bridge = executor.NewBridge(cfg.Executor, logger.With("component", "bridge"))
		exec, reader = a.bridge, a.bridge
	default:
		sim := executor.NewSimulated(cfg.Executor, logger.With("component", "executor"))
		exec, reader = sim, sim
	}

	a.refresher, err = snapshot.NewRefresher(cfg.Snapshot, reader, a.store, a.monitor, logger.With("component", "snapshot"))
	if err != nil {
		return nil, err
	}

	depth := queueDepth{store: a.store, metrics: a.metrics, logger: logger}
	observers := []syncer.PassObserver{a.metrics, depth}
	if cfg.Stats.Enabled && a.database != nil {
		a.stats, err = stats.NewStatsCollector(cfg.Stats.Collector, a.database, nil, logger.With("component", "stats"))
		if err != nil {
			return nil, err
		}
		observers = append(observers, a.stats)
	}

	a.syncer, err = syncer.New(cfg.Sync, syncer.Deps{
		Store:        a.store,
		Executor:     exec,
		Connectivity: a.monitor,
		Publisher:    a.bus,
		Refresher:    a.refresher,
		Observers:    observers,
	}, logger.With("component", "syncer"))
	if err != nil {
		return nil, err
	}
	a.refresher.SetActiveSource(a.syncer.ActiveAccount)

	var ring *notifier.RingSink
	if cfg.Notifier.Enabled {
		ring = notifier.NewRingSink(cfg.Notifier.History)
		sinks := []notifier.Sink{notifier.NewLogSink(logger.With("component", "notifier")), ring}
		if a.bridge != nil {
			sinks = append(sinks, notifier.NewBridgeSink(a.bridge))
		}
		a.notifier = notifier.New(a.bus, a.monitor, sinks, logger.With("component", "notifier"))
	}

	deps := ServiceDeps{
		Store:         a.store,
		Publisher:     a.bus,
		Syncer:        a.syncer,
		Monitor:       a.monitor,
		Refresher:     a.refresher,
		Notifications: ring,
		Stats:         a.stats,
		Metrics:       a.metrics,
	}
	if a.bridge != nil {
		deps.Signers = a.bridge.Connected
	}
	a.service, err = NewService(deps, logger.With("component", "service"))
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Start launches the background components
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.prober != nil {
		a.prober.Start(ctx)
	}
	a.refresher.Start(ctx)
	if a.stats != nil {
		a.stats.Start()
	}
	if a.notifier != nil {
		a.notifier.Start(ctx)
	}

	sub := a.bus.Subscribe("metrics")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer sub.Unsubscribe()
		metrics.Consume(ctx, sub, a.metrics)
	}()

	transitions, unsubscribe := a.monitor.Subscribe()
	a.metrics.Online(a.monitor.Online())
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-transitions:
				if !ok {
					return
				}
				a.metrics.Online(t.Online)
			}
		}
	}()

	queueDepth{store: a.store, metrics: a.metrics, logger: a.logger}.update()
	a.syncer.Start(ctx)

	a.logger.Info("stakequeue started",
		"backend", a.config.Store.Backend,
		"executor", a.config.Executor.Mode,
		"online", a.monitor.Online(),
		"active_account", a.syncer.ActiveAccount())
}

// Stop waits for a running pass, stops every component and closes the store.
// Every shutdown error is reported.
func (a *App) Stop() error {
	var result *multierror.Error

	a.syncer.Stop()

	if a.cancel != nil {
		a.cancel()
	}
	if a.prober != nil {
		a.prober.Stop()
	}
	a.refresher.Stop()
	if a.notifier != nil {
		a.notifier.Stop()
	}
	a.wg.Wait()

	if a.stats != nil {
		if err := a.stats.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stats: %w", err))
		}
	}
	a.bus.Close()
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("bridge: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("store: %w", err))
	}

	a.logger.Info("stakequeue stopped")
	return result.ErrorOrNil()
}

// Service returns the caller-facing API
func (a *App) Service() *Service { return a.service }

// Bridge returns the wallet bridge, nil unless the executor runs in bridge mode
func (a *App) Bridge() *executor.Bridge { return a.bridge }

// Registry returns the metrics registry, nil when metrics are disabled
func (a *App) Registry() *prometheus.Registry { return a.registry }

// queueDepth keeps the queue depth gauge current
type queueDepth struct {
	store   queue.Store
	metrics metrics.SyncMetrics
	logger  *slog.Logger
}

func (d queueDepth) ObservePass(syncer.PassResult) { d.update() }

func (d queueDepth) update() {
	n, err := d.store.Len()
	if err != nil {
		d.logger.Warn("failed to read queue length", "error", err)
		return
	}
	d.metrics.QueueDepth(n)
}

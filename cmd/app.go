package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/amirphl/split-trader/internal/broker"
	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/db"
	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/ledger"
	"github.com/amirphl/split-trader/internal/lifecycle"
	"github.com/amirphl/split-trader/internal/metrics"
	"github.com/amirphl/split-trader/internal/notifier"
	"github.com/amirphl/split-trader/internal/reconcile"
	"github.com/amirphl/split-trader/internal/signal"
	"github.com/amirphl/split-trader/internal/utils"
	"golang.org/x/sync/errgroup"
)

// app holds the wired engine.
type app struct {
	cfg        config.Config
	clock      utils.Clock
	broker     broker.Broker
	storage    db.Storage
	notifier   notifier.Notifier
	book       *ledger.Book
	registry   *execution.Registry
	tracker    *execution.Tracker
	reconciler *reconcile.Engine
	controller *lifecycle.Controller
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	utils.SetLogFile(cfg.LogFile)
	clock := utils.SystemClock{}

	var signals signal.Provider = signal.NewCached(
		&signal.File{Path: cfg.Signal.File, MaxAge: cfg.Signal.MaxAge.D(), Clock: clock},
		cfg.Signal.CacheTTL.D(), 4*len(cfg.WatchList())+16, clock)

	var raw broker.Broker
	switch cfg.Broker.Kind {
	case "wallex":
		raw = broker.NewWallex(cfg.Broker, clock)
	case "", "paper":
		// Paper fills against the analysed price.
		raw = broker.NewPaper(cfg.Broker.PaperCash, func(ctx context.Context, symbol string) (float64, error) {
			s, err := signals.Snapshot(ctx, symbol)
			if err != nil {
				return 0, err
			}
			return s.Price, nil
		}, clock)
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
	b := broker.NewLimited(raw, cfg.Broker, clock)
	log.Printf("Starting Split Trader with broker %s on %d symbols", b.Name(), len(cfg.WatchList()))

	storage, err := db.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	n := notifier.New(cfg.Notify)

	store := ledger.NewStore(cfg.LedgerFile, cfg.BackupRetention.D(), clock)
	loaded, err := store.Load()
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("load ledgers: %w", err)
	}
	book := ledger.NewBook(loaded, cfg.WatchList(), cfg.Tranches)

	registry := execution.NewRegistry(storage, clock, cfg.Execution.DuplicateGuard.D())
	if err := registry.Load(ctx); err != nil {
		storage.Close()
		return nil, fmt.Errorf("load pending orders: %w", err)
	}
	tracker := execution.NewTracker(b, registry, cfg.Execution, clock, n)

	rec := reconcile.NewEngine(b, book, store, reconcile.PolicyFromConfig(cfg.Reconcile), clock)
	rec.Journal = storage
	rec.Notifier = n
	rec.Pending = registry

	ctl := lifecycle.New(cfg, b, book, store, tracker, rec, signals, clock)
	ctl.Journal = storage
	ctl.Notifier = n

	return &app{
		cfg:        cfg,
		clock:      clock,
		broker:     b,
		storage:    storage,
		notifier:   n,
		book:       book,
		registry:   registry,
		tracker:    tracker,
		reconciler: rec,
		controller: ctl,
	}, nil
}

func (a *app) Close() {
	if err := a.storage.Close(); err != nil {
		log.Printf("Failed to close storage: %v", err)
	}
}

// Run serves metrics and drives the engine until ctx is cancelled.
func (a *app) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		group.Go(func() error {
			log.Printf("Serving metrics on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error { return a.loop(ctx) })
	return group.Wait()
}

func (a *app) loop(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in trading loop: %v", r)
			a.notifier.Send(fmt.Sprintf("PANIC in trading system: %v", r))
			panic(r)
		}
	}()

	usr1 := make(chan os.Signal, 1)
	ossignal.Notify(usr1, syscall.SIGUSR1)
	defer ossignal.Stop(usr1)

	tick := time.NewTicker(a.cfg.TickInterval.D())
	defer tick.Stop()
	sweep := time.NewTicker(a.cfg.SweepInterval.D())
	defer sweep.Stop()
	rec := time.NewTicker(a.cfg.ReconcileInterval.D())
	defer rec.Stop()

	a.notifier.Send(fmt.Sprintf("Split Trader started: %d symbols, broker %s", len(a.book.Symbols()), a.broker.Name()))
	a.sweep(ctx)
	a.reconcileAll(ctx)
	a.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Trading loop stopped")
			return nil
		case <-usr1:
			log.Println("Received SIGUSR1, clearing emergency stop")
			a.controller.ClearEmergencyStop()
		case <-sweep.C:
			a.sweep(ctx)
		case <-rec.C:
			a.reconcileAll(ctx)
		case <-tick.C:
			a.cycle(ctx)
		}
	}
}

func (a *app) cycle(ctx context.Context) {
	err := a.controller.RunCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, lifecycle.ErrHalted):
		log.Printf("Cycle skipped: %v", err)
	case ctx.Err() != nil:
	default:
		log.Printf("Cycle finished with errors: %v", err)
	}
}

func (a *app) sweep(ctx context.Context) {
	res, err := a.tracker.Sweep(ctx, a.clock.Now(), a.controller)
	if err != nil && ctx.Err() == nil {
		log.Printf("Pending sweep failed: %v", err)
	}
	if len(res) > 0 {
		log.Printf("Pending sweep resolved %d orders, %d still open", len(res), len(a.registry.List()))
	}
}

func (a *app) reconcileAll(ctx context.Context) {
	if halted, _ := a.controller.Halted(); halted {
		return
	}
	if _, err := a.reconciler.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
		log.Printf("Scheduled reconciliation failed: %v", err)
	}
}

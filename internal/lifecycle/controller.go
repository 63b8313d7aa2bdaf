// Package lifecycle drives the per-instrument trading cycle: reconcile,
// cooldown, stop-loss, sells and buys, behind a process-wide emergency stop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/amirphl/split-trader/internal/broker"
	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/journal"
	"github.com/amirphl/split-trader/internal/ledger"
	"github.com/amirphl/split-trader/internal/metrics"
	"github.com/amirphl/split-trader/internal/notifier"
	"github.com/amirphl/split-trader/internal/reconcile"
	"github.com/amirphl/split-trader/internal/signal"
	"github.com/amirphl/split-trader/internal/threshold"
	"github.com/amirphl/split-trader/internal/utils"
)

// ErrHalted is returned by RunCycle while the emergency stop is latched.
var ErrHalted = errors.New("trading halted by emergency stop")

// Reconciler repairs one instrument against the broker.
type Reconciler interface {
	Reconcile(ctx context.Context, symbol string) ([]reconcile.Change, error)
}

type Controller struct {
	cfg        config.Config
	broker     broker.Broker
	book       *ledger.Book
	store      ledger.Persister
	tracker    *execution.Tracker
	reconciler Reconciler
	signals    signal.Provider
	calc       *threshold.Calculator
	fees       ledger.Fees
	clock      utils.Clock

	Journal  journal.Journaler
	Notifier notifier.Notifier

	mu            sync.Mutex
	halted        bool
	haltReason    string
	clearedAt     time.Time
	initialEquity float64
}

func New(
	cfg config.Config,
	b broker.Broker,
	book *ledger.Book,
	store ledger.Persister,
	tracker *execution.Tracker,
	rec Reconciler,
	signals signal.Provider,
	clock utils.Clock,
) *Controller {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Controller{
		cfg:           cfg,
		broker:        b,
		book:          book,
		store:         store,
		tracker:       tracker,
		reconciler:    rec,
		signals:       signals,
		calc:          threshold.New(cfg),
		fees:          ledger.FeesFromConfig(cfg.Fees),
		clock:         clock,
		initialEquity: cfg.InitialEquity,
	}
}

// RunCycle processes every instrument once. It returns ErrHalted without
// touching any instrument while the emergency stop is latched.
func (c *Controller) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveCycle(time.Since(start).Seconds()) }()

	if err := c.EmergencyStopCheck(ctx); err != nil {
		return err
	}

	var errs []error
	for _, symbol := range c.book.Symbols() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.processSymbol(ctx, symbol); err != nil {
			log.Printf("Lifecycle | [%s] Cycle abandoned: %v", symbol, err)
			c.recordError(ctx, symbol, "cycle abandoned", err)
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) processSymbol(ctx context.Context, symbol string) error {
	if _, err := c.reconciler.Reconcile(ctx, symbol); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	snap := c.signal(ctx, symbol)
	if left := c.cooldownLeft(symbol, snap); left > 0 {
		log.Printf("Lifecycle | [%s] In cooldown, %s left, skipping", symbol, left.Round(time.Minute))
		return nil
	}

	price, err := c.broker.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("current price: %w", err)
	}

	l, err := c.book.Get(symbol)
	if err != nil {
		return err
	}
	if c.raiseHighWater(l, price) {
		if err := c.book.Commit(c.store); err != nil {
			return err
		}
	}

	stopped, err := c.evaluateStopLoss(ctx, symbol, snap, price)
	if err != nil || stopped {
		return err
	}
	if err := c.evaluateSells(ctx, symbol, snap, price); err != nil {
		return err
	}
	if err := c.evaluateBuy(ctx, symbol, snap, price); err != nil {
		return err
	}

	if l, err := c.book.Get(symbol); err == nil {
		metrics.SetActiveTranches(symbol, len(l.ActiveTranches()))
	}
	return nil
}

// signal returns the analysed snapshot of symbol. Without one, indicator
// fields are NaN so threshold rules fall back to their bases and buys wait.
func (c *Controller) signal(ctx context.Context, symbol string) signal.Snapshot {
	if c.signals != nil {
		snap, err := c.signals.Snapshot(ctx, symbol)
		if err == nil {
			return snap
		}
		log.Printf("Lifecycle | [%s] No market signal: %v", symbol, err)
	}
	return signal.Snapshot{
		Symbol:           symbol,
		RSI:              math.NaN(),
		VolatilityPct:    math.NaN(),
		PullbackFromHigh: math.NaN(),
		Regime:           signal.Neutral,
	}
}

func (c *Controller) raiseHighWater(l *ledger.InstrumentLedger, price float64) bool {
	before := make([]float64, len(l.Tranches))
	for i, t := range l.Tranches {
		before[i] = t.HighWaterMarkProfitPct
	}
	l.UpdateHighWater(price)
	for i, t := range l.Tranches {
		if t.HighWaterMarkProfitPct != before[i] {
			return true
		}
	}
	return false
}

func (c *Controller) cooldownLeft(symbol string, snap signal.Snapshot) time.Duration {
	l, err := c.book.Get(symbol)
	if err != nil {
		return 0
	}
	stock := c.cfg.Stock(symbol)
	left, bd := c.calc.CooldownRemaining(threshold.CooldownState{
		Now:            c.clock.Now(),
		LastSellAt:     l.LastSellAt,
		LastStopLossAt: l.LastStopLossAt,
		Last: threshold.CooldownInput{
			Type:                     stock.Type,
			ReturnPct:                l.LastSellReturnPct,
			StopLoss:                 l.LastSellStopLoss,
			VolatilityPct:            snap.VolatilityPct,
			Regime:                   snap.Regime,
			HighVolatilityMultiplier: stock.HighVolatilityMultiplier,
		},
	})
	if left > 0 {
		log.Printf("Lifecycle | [%s] Cooldown: %s", symbol, bd)
	}
	return left
}

// afterTrade verifies the ledger against the broker right after a fill.
func (c *Controller) afterTrade(ctx context.Context, symbol string) {
	if _, err := c.reconciler.Reconcile(ctx, symbol); err != nil {
		log.Printf("Lifecycle | [%s] Post-trade reconciliation failed: %v", symbol, err)
	}
}

func (c *Controller) notify(msg string) {
	if c.Notifier == nil {
		return
	}
	if err := c.Notifier.Send(msg); err != nil {
		log.Printf("Lifecycle | Notification failed: %v", err)
	}
}

func (c *Controller) recordError(ctx context.Context, symbol, what string, err error) {
	journal.Record(ctx, c.Journal, journal.NewEvent(c.clock.Now(), journal.TypeError, symbol, what,
		map[string]any{"error": err.Error()}))
}

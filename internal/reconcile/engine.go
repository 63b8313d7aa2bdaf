package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/amirphl/split-trader/internal/broker"
	"github.com/amirphl/split-trader/internal/journal"
	"github.com/amirphl/split-trader/internal/ledger"
	"github.com/amirphl/split-trader/internal/metrics"
	"github.com/amirphl/split-trader/internal/notifier"
	"github.com/amirphl/split-trader/internal/utils"
)

// PendingChecker reports whether an order for symbol is still being tracked.
// Reconciling such a symbol would race the fill, so it is deferred.
type PendingChecker interface {
	Has(symbol string) bool
}

// Engine fetches broker holdings, repairs ledgers and persists the result.
type Engine struct {
	broker broker.Broker
	book   *ledger.Book
	store  ledger.Persister
	policy Policy
	clock  utils.Clock

	Journal  journal.Journaler
	Notifier notifier.Notifier
	Pending  PendingChecker
}

func NewEngine(b broker.Broker, book *ledger.Book, store ledger.Persister, policy Policy, clock utils.Clock) *Engine {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Engine{broker: b, book: book, store: store, policy: policy, clock: clock}
}

// Reconcile repairs one instrument. The book is rolled back when the repair
// cannot be persisted.
func (e *Engine) Reconcile(ctx context.Context, symbol string) ([]Change, error) {
	if e.Pending != nil && e.Pending.Has(symbol) {
		log.Printf("Reconcile | [%s] Order still pending, skipping until it resolves", symbol)
		return nil, nil
	}
	l, err := e.book.Get(symbol)
	if err != nil {
		return nil, err
	}

	h, err := e.broker.GetHoldings(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("holdings for %s: %w", symbol, err)
	}
	snap := Snapshot{Holding: h}
	if h.AveragePrice <= 0 && h.Quantity > 0 && h.Quantity != l.ActiveQuantity() {
		if p, err := e.broker.GetCurrentPrice(ctx, symbol); err != nil {
			log.Printf("Reconcile | [%s] No average price and current price unavailable: %v", symbol, err)
		} else {
			snap.MarketPrice = p
		}
	}

	now := e.clock.Now()
	beforeQty, beforeAvg, beforeActive := l.ActiveQuantity(), l.AverageEntry(), len(l.ActiveTranches())
	changes := Apply(l, snap, now, e.policy)
	if len(changes) == 0 {
		return nil, nil
	}

	if err := e.book.Commit(e.store); err != nil {
		journal.Record(ctx, e.Journal, journal.NewEvent(now, journal.TypeError, symbol,
			"reconciliation not persisted", map[string]any{"error": err.Error()}))
		return nil, fmt.Errorf("persist reconciliation of %s: %w", symbol, err)
	}

	after, _ := e.book.Get(symbol)
	for _, c := range changes {
		log.Printf("Reconcile | [%s] %s: %s | before qty=%d avg=%.2f tranches=%d | after qty=%d avg=%.2f tranches=%d",
			symbol, c.Kind, c.Description, beforeQty, beforeAvg, beforeActive,
			after.ActiveQuantity(), after.AverageEntry(), len(after.ActiveTranches()))
		metrics.IncRepair(c.Kind.String())
		journal.Record(ctx, e.Journal, journal.NewEvent(now, journal.TypeReconcile, symbol, c.Description, map[string]any{
			"kind":            c.Kind.String(),
			"ledger_quantity": c.LedgerQuantity,
			"ledger_price":    c.LedgerPrice,
			"broker_quantity": c.BrokerQuantity,
			"broker_price":    c.BrokerPrice,
			"new_price":       c.NewPrice,
		}))
		e.notify(fmt.Sprintf("Reconciliation %s: %s", symbol, c.Description))
	}
	metrics.SetActiveTranches(symbol, len(after.ActiveTranches()))
	return changes, nil
}

// ReconcileAll runs Reconcile for every instrument in the book. A failure on
// one instrument does not stop the others.
func (e *Engine) ReconcileAll(ctx context.Context) ([]Change, error) {
	var all []Change
	var errs []error
	for _, symbol := range e.book.Symbols() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		changes, err := e.Reconcile(ctx, symbol)
		if err != nil {
			log.Printf("Reconcile | [%s] %v", symbol, err)
			errs = append(errs, err)
			continue
		}
		all = append(all, changes...)
	}
	if len(all) > 0 {
		log.Printf("Reconcile | Sweep repaired %d instrument(s)", len(all))
	}
	return all, errors.Join(errs...)
}

func (e *Engine) notify(msg string) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Send(msg); err != nil {
		log.Printf("Reconcile | Notification failed: %v", err)
	}
}

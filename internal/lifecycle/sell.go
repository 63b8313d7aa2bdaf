package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/journal"
	"github.com/amirphl/split-trader/internal/ledger"
	"github.com/amirphl/split-trader/internal/metrics"
	"github.com/amirphl/split-trader/internal/signal"
	"github.com/amirphl/split-trader/internal/threshold"
)

// evaluateStopLoss liquidates every active tranche when the return of the
// average entry breaches the adaptive threshold. It reports true when the
// instrument's cycle must stop here.
func (c *Controller) evaluateStopLoss(ctx context.Context, symbol string, snap signal.Snapshot, price float64) (bool, error) {
	l, err := c.book.Get(symbol)
	if err != nil {
		return false, err
	}
	active := l.ActiveTranches()
	avg := l.AverageEntry()
	if len(active) == 0 || avg <= 0 {
		return false, nil
	}

	now := c.clock.Now()
	held := 0
	if first := l.EarliestEntry(); !first.IsZero() && now.After(first) {
		held = int(now.Sub(first).Hours() / 24)
	}
	limit, bd := c.calc.StopLoss(threshold.StopLossInput{
		Position:      len(active),
		HoldingDays:   held,
		VolatilityPct: snap.VolatilityPct,
		Regime:        snap.Regime,
		Override:      c.cfg.Stock(symbol).StopLossOverride,
	})
	ret := (price - avg) / avg
	if ret > limit {
		return false, nil
	}

	qty := l.ActiveQuantity()
	top := active[len(active)-1].Index
	log.Printf("Lifecycle | [%s] Stop-loss triggered: return %.2f%% <= %.2f%% (%s), liquidating %d shares in %d tranches",
		symbol, ret*100, limit*100, bd, qty, len(active))

	fill, err := c.tracker.Sell(ctx, execution.SellRequest{
		Symbol:       symbol,
		TrancheIndex: top,
		Quantity:     qty,
		Reason:       ledger.ReasonStopLoss.String(),
	})
	if err != nil {
		if errors.Is(err, execution.ErrDuplicateOrder) {
			log.Printf("Lifecycle | [%s] Stop-loss waits for the outstanding sell: %v", symbol, err)
			return true, nil
		}
		return true, fmt.Errorf("stop-loss sell: %w", err)
	}
	if !fill.Confirmed {
		log.Printf("Lifecycle | [%s] Stop-loss sell unconfirmed, left to the pending sweep", symbol)
		return true, nil
	}

	if err := c.recordSell(ctx, symbol, top, fill, ledger.ReasonStopLoss, ""); err != nil {
		return true, err
	}
	metrics.IncStopLoss()
	journal.Record(ctx, c.Journal, journal.NewEvent(now, journal.TypeStopLoss, symbol,
		fmt.Sprintf("stop-loss at %.2f%% (limit %.2f%%)", ret*100, limit*100), map[string]any{
			"quantity":  fill.Quantity,
			"price":     fill.Price,
			"avg_entry": avg,
			"threshold": limit,
			"breakdown": bd.String(),
		}))
	c.notify(fmt.Sprintf("STOP-LOSS %s: sold %d @ %.2f, avg entry %.2f, return %.2f%% vs limit %.2f%% [%s]",
		symbol, fill.Quantity, fill.Price, avg, ret*100, limit*100, bd))
	c.afterTrade(ctx, symbol)
	return true, nil
}

// sellDecision is the outcome of the sell rules for one tranche.
type sellDecision struct {
	quantity int64
	reason   ledger.SellReason
	detail   string
}

// decideSell applies the sell rules to tranche t in priority order: quick
// profit, safety protection, target reached, time based.
func decideSell(t *ledger.Tranche, price float64, now time.Time, stock config.StockConfig, sc config.SellConfig, regime signal.Regime) (sellDecision, bool) {
	profit := t.ProfitPct(price)
	cur := t.CurrentQuantity
	portion := func(ratio float64) int64 {
		q := int64(math.Floor(float64(cur) * ratio))
		if q < 1 {
			q = 1
		}
		if q > cur {
			q = cur
		}
		return q
	}

	switch {
	case !t.PartialSold && stock.QuickProfitTarget > 0 && profit >= stock.QuickProfitTarget:
		return sellDecision{portion(sc.QuickProfitRatio), ledger.ReasonQuickProfit,
			fmt.Sprintf("profit %.2f%% >= quick target %.2f%%", profit, stock.QuickProfitTarget)}, true

	case stock.HoldProfitTarget > 0 && t.HighWaterMarkProfitPct >= stock.HoldProfitTarget && profit <= stock.HoldProfitTarget*sc.SafetyFactor:
		return sellDecision{cur, ledger.ReasonSafetyProtection,
			fmt.Sprintf("peak %.2f%% fell to %.2f%% (<= %.2f%%)", t.HighWaterMarkProfitPct, profit, stock.HoldProfitTarget*sc.SafetyFactor)}, true

	case stock.HoldProfitTarget > 0 && profit >= stock.HoldProfitTarget:
		if regime.IsUp() && !t.PartialSold && stock.PartialSellRatio > 0 && stock.PartialSellRatio < 1 {
			return sellDecision{portion(stock.PartialSellRatio), ledger.ReasonPartialTarget,
				fmt.Sprintf("profit %.2f%% >= target %.2f%% in %s", profit, stock.HoldProfitTarget, regime)}, true
		}
		return sellDecision{cur, ledger.ReasonTargetReached,
			fmt.Sprintf("profit %.2f%% >= target %.2f%%", profit, stock.HoldProfitTarget)}, true

	case sc.TimeBasedDays > 0 && t.HoldingDays(now) >= sc.TimeBasedDays && profit >= sc.TimeBasedMinReturn:
		return sellDecision{portion(sc.TimeBasedRatio), ledger.ReasonTimeBased,
			fmt.Sprintf("held %dd with %.2f%% >= %.2f%%", t.HoldingDays(now), profit, sc.TimeBasedMinReturn)}, true
	}
	return sellDecision{}, false
}

// evaluateSells runs the sell rules over the active tranches from the
// highest index down, so a tranche is never closed under an open one.
func (c *Controller) evaluateSells(ctx context.Context, symbol string, snap signal.Snapshot, price float64) error {
	stock := c.cfg.Stock(symbol)
	l, err := c.book.Get(symbol)
	if err != nil {
		return err
	}
	for k := len(l.Tranches); k >= 1; k-- {
		l, err := c.book.Get(symbol)
		if err != nil {
			return err
		}
		t := l.Tranche(k)
		if t == nil || !t.IsActive {
			continue
		}
		d, ok := decideSell(t, price, c.clock.Now(), stock, c.cfg.Sell, snap.Regime)
		if !ok {
			continue
		}
		if d.quantity == t.CurrentQuantity && higherActive(l, k) {
			log.Printf("Lifecycle | [%s] Tranche %d %s but tranche %d is open, not closing", symbol, k, d.reason, k+1)
			continue
		}

		log.Printf("Lifecycle | [%s] Tranche %d %s: %s, selling %d of %d", symbol, k, d.reason, d.detail, d.quantity, t.CurrentQuantity)
		fill, err := c.tracker.Sell(ctx, execution.SellRequest{
			Symbol:       symbol,
			TrancheIndex: k,
			Quantity:     d.quantity,
			Reason:       d.reason.String(),
		})
		if err != nil {
			if errors.Is(err, execution.ErrDuplicateOrder) || errors.Is(err, execution.ErrInsufficientHoldings) {
				log.Printf("Lifecycle | [%s] Sell of tranche %d skipped: %v", symbol, k, err)
				return nil
			}
			return fmt.Errorf("sell tranche %d: %w", k, err)
		}
		if !fill.Confirmed {
			log.Printf("Lifecycle | [%s] Sell of tranche %d unconfirmed, left to the pending sweep", symbol, k)
			return nil
		}
		if err := c.recordSell(ctx, symbol, k, fill, d.reason, ""); err != nil {
			return err
		}
		c.notify(fmt.Sprintf("SELL %s tranche %d (%s): %d @ %.2f, %s", symbol, k, d.reason, fill.Quantity, fill.Price, d.detail))
		c.afterTrade(ctx, symbol)
	}
	return nil
}

// recordSell books a confirmed sell fill into the ledger and persists it.
func (c *Controller) recordSell(ctx context.Context, symbol string, k int, fill execution.Fill, reason ledger.SellReason, note string) error {
	l, err := c.book.Get(symbol)
	if err != nil {
		return err
	}
	recs, unmatched := applySell(l, k, fill.Quantity, ledger.SellInput{
		Price:  fill.Price,
		Reason: reason,
		Note:   note,
		At:     fill.At,
		Fees:   c.fees,
	})
	if reason == ledger.ReasonQuickProfit || reason == ledger.ReasonPartialTarget {
		if t := l.Tranche(k); t != nil && t.IsActive {
			t.PartialSold = true
		}
	}
	if unmatched > 0 {
		log.Printf("Lifecycle | [%s] Sell fill of %d exceeds the ledger by %d, left to reconciliation", symbol, fill.Quantity, unmatched)
	}
	if err := c.book.Commit(c.store); err != nil {
		c.recordError(ctx, symbol, "sell fill not persisted", err)
		c.notify(fmt.Sprintf("LEDGER SAVE FAILED %s: sell of %d @ %.2f confirmed at the broker but not recorded: %v",
			symbol, fill.Quantity, fill.Price, err))
		return fmt.Errorf("persist sell of %s: %w", symbol, err)
	}

	for _, r := range recs {
		metrics.IncSell(r.Reason.String())
		journal.Record(ctx, c.Journal, journal.NewEvent(fill.At, journal.TypeFill, symbol,
			fmt.Sprintf("sell %d @ %.2f (%s)", r.Quantity, r.Price, r.Reason), map[string]any{
				"side":         "sell",
				"order_id":     fill.OrderID,
				"quantity":     r.Quantity,
				"price":        r.Price,
				"reason":       r.Reason.String(),
				"note":         r.Note,
				"return_pct":   r.RealizedReturnPct,
				"realized_pnl": r.RealizedPnL,
			}))
	}
	return nil
}

// applySell removes qty from the ledger. It goes to tranche k when k can
// absorb it; otherwise the quantity is taken from the highest active tranche
// downwards. The part no tranche could absorb is returned.
func applySell(l *ledger.InstrumentLedger, k int, qty int64, in ledger.SellInput) ([]ledger.SellRecord, int64) {
	if t := l.Tranche(k); t != nil && t.IsActive && qty <= t.CurrentQuantity &&
		!(qty == t.CurrentQuantity && higherActive(l, k)) {
		in.Quantity = qty
		rec, err := l.Sell(k, in)
		if err != nil {
			log.Printf("Lifecycle | [%s] %v", l.Symbol, err)
			return nil, qty
		}
		return []ledger.SellRecord{rec}, 0
	}

	var recs []ledger.SellRecord
	remaining := qty
	for i := len(l.Tranches); i >= 1 && remaining > 0; i-- {
		t := l.Tranche(i)
		if !t.IsActive {
			continue
		}
		in.Quantity = min(remaining, t.CurrentQuantity)
		rec, err := l.Sell(i, in)
		if err != nil {
			log.Printf("Lifecycle | [%s] %v", l.Symbol, err)
			break
		}
		recs = append(recs, rec)
		remaining -= in.Quantity
	}
	return recs, remaining
}

func higherActive(l *ledger.InstrumentLedger, k int) bool {
	next := l.Tranche(k + 1)
	return next != nil && next.IsActive
}

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/amirphl/split-trader/internal/broker"
	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/journal"
	"github.com/amirphl/split-trader/internal/ledger"
	"github.com/amirphl/split-trader/internal/metrics"
	"github.com/amirphl/split-trader/internal/signal"
)

// entryCheck decides whether tranche k may open at price. The reason is
// empty when it may.
func (c *Controller) entryCheck(l *ledger.InstrumentLedger, k int, snap signal.Snapshot, price float64) string {
	stock := c.cfg.Stock(l.Symbol)
	buy := c.cfg.Buy

	if !snap.HasRSI() {
		return "no RSI available"
	}
	if snap.RSI < buy.MinRSI || snap.RSI > buy.MaxRSI {
		return fmt.Sprintf("RSI %.1f outside [%.0f, %.0f]", snap.RSI, buy.MinRSI, buy.MaxRSI)
	}

	if k == 1 {
		if math.IsNaN(snap.PullbackFromHigh) || snap.PullbackFromHigh < stock.MinPullback {
			return fmt.Sprintf("pullback from high %.2f%% below %.2f%%", snap.PullbackFromHigh, stock.MinPullback)
		}
		if snap.RSI > stock.MaxRSIBuy {
			return fmt.Sprintf("RSI %.1f above %.0f", snap.RSI, stock.MaxRSIBuy)
		}
		return ""
	}

	// Sequential entry: tranche k needs k-1 open and a deep enough drop
	// from its entry price.
	prev := l.Tranche(k - 1)
	if prev == nil || !prev.IsActive {
		return fmt.Sprintf("tranche %d is not active", k-1)
	}
	required, bd := c.calc.RequiredPullback(k, snap.RSI, snap.Regime, snap.VolatilityPct)
	drop := (prev.EntryPrice - price) / prev.EntryPrice
	if drop < required {
		return fmt.Sprintf("drop %.2f%% from tranche %d entry %.2f below required %.2f%% (%s)",
			drop*100, k-1, prev.EntryPrice, required*100, bd)
	}
	if k >= 3 && snap.RSI > buy.LaterTrancheMaxRSI {
		return fmt.Sprintf("RSI %.1f above %.0f for tranche %d", snap.RSI, buy.LaterTrancheMaxRSI, k)
	}
	if snap.Regime == signal.StrongUptrend && k > buy.StrongUptrendMaxTranche {
		return fmt.Sprintf("strong uptrend blocks tranche %d", k)
	}
	return ""
}

// evaluateBuy opens the first inactive tranche when its entry rules, the
// daily cap and the budget allow.
func (c *Controller) evaluateBuy(ctx context.Context, symbol string, snap signal.Snapshot, price float64) error {
	if _, pending := c.tracker.Registry().Get(symbol, execution.Buy); pending {
		return nil
	}
	l, err := c.book.Get(symbol)
	if err != nil {
		return err
	}
	t := l.FirstInactive()
	if t == nil {
		return nil
	}
	k := t.Index

	now := c.clock.Now()
	if maxBuys := c.cfg.Buy.MaxDailyBuys; maxBuys > 0 && l.BuysOn(now.Format("2006-01-02")) >= maxBuys {
		log.Printf("Lifecycle | [%s] Daily buy cap %d reached", symbol, maxBuys)
		return nil
	}
	if reason := c.entryCheck(l, k, snap, price); reason != "" {
		log.Printf("Lifecycle | [%s] Tranche %d not opened: %s", symbol, k, reason)
		return nil
	}

	bal, err := c.broker.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	budget := c.trancheBudget(symbol, k, bal.TotalEquity)
	limit := price * (1 + c.cfg.Execution.BuyMarkup)
	qty := int64(math.Floor(budget / limit))
	if qty < 1 {
		log.Printf("Lifecycle | [%s] Tranche %d budget %.2f buys nothing at %.2f", symbol, k, budget, limit)
		return nil
	}
	cash := c.spendableCash(bal)
	if cost := c.fees.BuyCost(limit, qty); cost > cash {
		log.Printf("Lifecycle | [%s] Tranche %d needs %.2f, spendable cash %.2f", symbol, k, cost, cash)
		return nil
	}

	analysed := snap.Price
	if analysed <= 0 {
		analysed = price
	}
	log.Printf("Lifecycle | [%s] Opening tranche %d: %d @ ~%.2f (budget %.2f)", symbol, k, qty, price, budget)
	fill, err := c.tracker.Buy(ctx, execution.BuyRequest{
		Symbol:        symbol,
		TrancheIndex:  k,
		Quantity:      qty,
		AnalysedPrice: analysed,
		Reason:        fmt.Sprintf("tranche %d entry", k),
	})
	if err != nil {
		if errors.Is(err, execution.ErrDuplicateOrder) || errors.Is(err, execution.ErrPriceMoved) {
			log.Printf("Lifecycle | [%s] Buy of tranche %d skipped: %v", symbol, k, err)
			return nil
		}
		return fmt.Errorf("buy tranche %d: %w", k, err)
	}
	if !fill.Confirmed {
		log.Printf("Lifecycle | [%s] Buy of tranche %d unconfirmed, left to the pending sweep", symbol, k)
		return nil
	}
	if err := c.recordBuy(ctx, symbol, k, fill); err != nil {
		return err
	}
	c.notify(fmt.Sprintf("BUY %s tranche %d: %d @ %.2f (budget %.2f, RSI %.1f, %s)",
		symbol, k, fill.Quantity, fill.Price, budget, snap.RSI, snap.Regime))
	c.afterTrade(ctx, symbol)
	return nil
}

// spendableCash is the broker's free cash less the outstanding buys of every
// instrument that the broker does not hold locked yet.
func (c *Controller) spendableCash(bal broker.Balance) float64 {
	unlocked := c.tracker.Registry().CommittedBudget("") - bal.Locked
	if unlocked < 0 {
		unlocked = 0
	}
	return bal.Cash - unlocked
}

// trancheBudget is the instrument's allocation times the tranche ratio.
func (c *Controller) trancheBudget(symbol string, k int, equity float64) float64 {
	total := c.cfg.TotalBudget
	if total <= 0 {
		total = equity
	}
	weight := c.cfg.Stock(symbol).Weight
	if weight <= 0 {
		if n := len(c.book.Symbols()); n > 0 {
			weight = 1 / float64(n)
		}
	}
	return total * weight * c.cfg.TrancheRatio(k)
}

// recordBuy activates tranche k with a confirmed fill and persists it.
func (c *Controller) recordBuy(ctx context.Context, symbol string, k int, fill execution.Fill) error {
	l, err := c.book.Get(symbol)
	if err != nil {
		return err
	}
	if err := l.Buy(k, fill.Price, fill.Quantity, fill.At); err != nil {
		c.recordError(ctx, symbol, "buy fill rejected by ledger", err)
		return fmt.Errorf("record buy of %s tranche %d: %w", symbol, k, err)
	}
	if err := c.book.Commit(c.store); err != nil {
		c.recordError(ctx, symbol, "buy fill not persisted", err)
		c.notify(fmt.Sprintf("LEDGER SAVE FAILED %s: buy of %d @ %.2f confirmed at the broker but not recorded: %v",
			symbol, fill.Quantity, fill.Price, err))
		return fmt.Errorf("persist buy of %s: %w", symbol, err)
	}
	journal.Record(ctx, c.Journal, journal.NewEvent(fill.At, journal.TypeFill, symbol,
		fmt.Sprintf("buy %d @ %.2f (tranche %d)", fill.Quantity, fill.Price, k), map[string]any{
			"side":     "buy",
			"order_id": fill.OrderID,
			"tranche":  k,
			"quantity": fill.Quantity,
			"price":    fill.Price,
		}))
	metrics.SetActiveTranches(symbol, len(l.ActiveTranches()))
	return nil
}

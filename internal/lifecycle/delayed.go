package lifecycle

import (
	"context"
	"fmt"
	"log"

	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/ledger"
	"github.com/amirphl/split-trader/internal/metrics"
)

// HandleDelayedFill books a fill the sweep confirmed after its polling
// window. A buy opens the recorded tranche, or the first one that may open;
// a sell is tagged as a delayed fill carrying the intended reason.
func (c *Controller) HandleDelayedFill(ctx context.Context, fill execution.Fill) error {
	o := fill.Order
	l := c.book.Ensure(o.Symbol, "")

	switch o.Side {
	case execution.Buy:
		k := o.TrancheIndex
		if t := l.Tranche(k); t == nil || t.IsActive || (k > 1 && !l.Tranche(k-1).IsActive) {
			first := l.FirstInactive()
			if first == nil {
				return fmt.Errorf("delayed buy of %s: every tranche is already open", o.Symbol)
			}
			log.Printf("Lifecycle | [%s] Delayed buy meant for tranche %d goes to tranche %d", o.Symbol, k, first.Index)
			k = first.Index
		}
		if err := c.recordBuy(ctx, o.Symbol, k, fill); err != nil {
			return err
		}
		c.notify(fmt.Sprintf("DELAYED BUY %s tranche %d: %d @ %.2f (order %s, %s)",
			o.Symbol, k, fill.Quantity, fill.Price, o.OrderID, o.Reason))

	case execution.Sell:
		note := o.Reason
		var intended ledger.SellReason
		if err := intended.UnmarshalText([]byte(o.Reason)); err != nil {
			note = ledger.ReasonUnknown.String()
		}
		if err := c.recordSell(ctx, o.Symbol, o.TrancheIndex, fill, ledger.ReasonDelayedFill, note); err != nil {
			return err
		}
		if intended == ledger.ReasonStopLoss {
			metrics.IncStopLoss()
		}
		c.notify(fmt.Sprintf("DELAYED SELL %s (%s): %d @ %.2f (order %s)",
			o.Symbol, note, fill.Quantity, fill.Price, o.OrderID))

	default:
		return fmt.Errorf("delayed fill of %s has unknown side %v", o.Symbol, o.Side)
	}
	return nil
}

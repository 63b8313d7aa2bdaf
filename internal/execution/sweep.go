package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/split-trader/internal/metrics"
)

// Resolution is the fate of one pending order found by Sweep.
type Resolution struct {
	Order   PendingOrder
	Fill    Fill
	Expired bool
}

// FillHandler applies a fill that was confirmed after its polling window.
type FillHandler interface {
	HandleDelayedFill(ctx context.Context, fill Fill) error
}

// Sweep re-checks every pending order whose polling window has passed.
// Orders the broker position now confirms are handed to h and dropped;
// orders older than the pending expiry are dropped as expired. Orders whose
// fill h fails to apply are retried on the next sweep until they expire,
// after which reconciliation owns the repair.
func (t *Tracker) Sweep(ctx context.Context, now time.Time, h FillHandler) ([]Resolution, error) {
	var out []Resolution
	var errs []error

	for _, o := range t.registry.List() {
		age := now.Sub(o.SubmittedAt)
		if age < t.bound(o.Side) {
			continue
		}
		expired := age > t.cfg.PendingExpiry.D()

		holding, err := t.broker.GetHoldings(ctx, o.Symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s %s: %w", o.Symbol, o.Side, err))
			continue
		}

		if o.Satisfied(holding.Quantity) {
			fill := t.confirmedFill(o, holding)
			if h != nil {
				if err := h.HandleDelayedFill(ctx, fill); err != nil {
					errs = append(errs, fmt.Errorf("apply delayed %s fill for %s: %w", o.Side, o.Symbol, err))
					if !expired {
						continue
					}
					log.Printf("Execution | [%s] Delayed fill could not be applied before expiry, leaving it to reconciliation", o.Symbol)
				}
			}
			if err := t.registry.Remove(ctx, o); err != nil {
				errs = append(errs, err)
			}
			metrics.IncPendingResolved("filled")
			msg := fmt.Sprintf("%s delayed %s fill: %d @ %.2f after %v",
				o.Symbol, o.Side, fill.Quantity, fill.Price, age.Round(time.Second))
			log.Printf("Execution | [%s] %s", o.Symbol, msg)
			t.notify(msg)
			out = append(out, Resolution{Order: fill.Order, Fill: fill})
			continue
		}

		if expired {
			o.Status = Expired
			if err := t.registry.Remove(ctx, o); err != nil {
				errs = append(errs, err)
			}
			metrics.IncPendingResolved("expired")
			msg := fmt.Sprintf("%s %s order %s expired unfilled after %v (%d requested, moved %d)",
				o.Symbol, o.Side, o.OrderID, age.Round(time.Second), o.QuantityRequested, o.Delta(holding.Quantity))
			log.Printf("Execution | [%s] %s", o.Symbol, msg)
			t.notify(msg)
			out = append(out, Resolution{Order: o, Expired: true})
			continue
		}

		log.Printf("Execution | [%s] Pending %s order %s still open (%v of %v)",
			o.Symbol, o.Side, o.OrderID, age.Round(time.Second), t.cfg.PendingExpiry.D())
	}
	return out, errors.Join(errs...)
}

func (t *Tracker) bound(side Side) time.Duration {
	switch side {
	case Buy:
		return t.cfg.BuyTimeout.D()
	case Sell:
		return t.cfg.SellTimeout.D()
	}
	return t.cfg.BuyTimeout.D()
}

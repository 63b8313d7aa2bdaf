// Package reconcile repairs the tranche ledger against the broker's
// authoritative holdings.
package reconcile

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/amirphl/split-trader/internal/broker"
	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/ledger"
)

// Kind names the repair applied to a ledger.
type Kind int

const (
	KindRestore Kind = iota + 1
	KindClear
	KindPriceOverwrite
	KindCollapse
)

func (k Kind) String() string {
	switch k {
	case KindRestore:
		return "restore"
	case KindClear:
		return "clear"
	case KindPriceOverwrite:
		return "price_overwrite"
	case KindCollapse:
		return "collapse"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Policy tunes the repair rules.
type Policy struct {
	// PriceTolerance is the relative entry-price difference tolerated before
	// the broker's average price overwrites a single active tranche.
	PriceTolerance float64
	// RestoreBackdate is subtracted from now when a position is restored so
	// entry-recency rules do not fire on it.
	RestoreBackdate time.Duration
}

func PolicyFromConfig(c config.ReconcileConfig) Policy {
	return Policy{PriceTolerance: c.PriceTolerance, RestoreBackdate: c.RestoreBackdate.D()}
}

// Snapshot is the broker view of one instrument. MarketPrice stands in for
// the cost basis when the broker does not report an average price.
type Snapshot struct {
	broker.Holding
	MarketPrice float64
}

// Change describes one repair with the values before and after.
type Change struct {
	Symbol         string
	Kind           Kind
	LedgerQuantity int64
	LedgerPrice    float64
	BrokerQuantity int64
	BrokerPrice    float64
	NewPrice       float64
	Description    string
}

// Apply brings l in line with the broker snapshot and returns what it
// changed. Applying it again with the same snapshot changes nothing.
func Apply(l *ledger.InstrumentLedger, s Snapshot, now time.Time, p Policy) []Change {
	internal := l.ActiveQuantity()
	ledgerPrice := l.AverageEntry()
	base := Change{
		Symbol:         l.Symbol,
		LedgerQuantity: internal,
		LedgerPrice:    ledgerPrice,
		BrokerQuantity: s.Quantity,
		BrokerPrice:    s.AveragePrice,
	}

	switch {
	case s.Quantity == internal:
		active := l.ActiveTranches()
		if len(active) != 1 || s.AveragePrice <= 0 {
			return nil
		}
		t := active[0]
		if t.EntryPrice > 0 && math.Abs(t.EntryPrice-s.AveragePrice)/s.AveragePrice <= p.PriceTolerance {
			return nil
		}
		t.EntryPrice = s.AveragePrice
		c := base
		c.Kind = KindPriceOverwrite
		c.NewPrice = s.AveragePrice
		c.Description = fmt.Sprintf("tranche %d entry price %.2f -> %.2f (broker average, %d shares)",
			t.Index, ledgerPrice, s.AveragePrice, s.Quantity)
		return []Change{c}

	case s.Quantity <= 0:
		l.Clear(now)
		c := base
		c.Kind = KindClear
		c.Description = fmt.Sprintf("broker holds nothing, cleared %d shares across tranches (avg %.2f)", internal, ledgerPrice)
		return []Change{c}

	case internal == 0:
		price := s.AveragePrice
		if price <= 0 {
			price = s.MarketPrice
		}
		if price <= 0 {
			log.Printf("Reconcile | [%s] Broker holds %d shares but no price is known, restore deferred", l.Symbol, s.Quantity)
			return nil
		}
		entry := now.Add(-p.RestoreBackdate)
		l.Restore(s.Quantity, price, entry, now)
		c := base
		c.Kind = KindRestore
		c.NewPrice = price
		c.Description = fmt.Sprintf("restored tranche 1 with %d shares @ %.2f, entry dated %s",
			s.Quantity, price, entry.Format("2006-01-02"))
		return []Change{c}

	default:
		price := s.AveragePrice
		if price <= 0 {
			price = ledgerPrice
		}
		if price <= 0 {
			price = s.MarketPrice
		}
		if price <= 0 {
			log.Printf("Reconcile | [%s] Quantity mismatch (ledger %d, broker %d) but no price is known, collapse deferred",
				l.Symbol, internal, s.Quantity)
			return nil
		}
		active := len(l.ActiveTranches())
		entry := l.EarliestEntry()
		if entry.IsZero() {
			entry = now.Add(-p.RestoreBackdate)
		}
		l.Restore(s.Quantity, price, entry, now)
		c := base
		c.Kind = KindCollapse
		c.NewPrice = price
		c.Description = fmt.Sprintf("ledger %d shares in %d tranches vs broker %d, collapsed to tranche 1 @ %.2f",
			internal, active, s.Quantity, price)
		return []Change{c}
	}
}

package execution

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/split-trader/internal/broker"
	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/metrics"
	"github.com/amirphl/split-trader/internal/notifier"
	"github.com/amirphl/split-trader/internal/utils"
)

// BuyRequest asks the tracker to open TrancheIndex with Quantity shares.
// AnalysedPrice is the price the decision was made on; zero skips the price
// jump guard.
type BuyRequest struct {
	Symbol        string
	TrancheIndex  int
	Quantity      int64
	AnalysedPrice float64
	Reason        string
}

type SellRequest struct {
	Symbol       string
	TrancheIndex int
	Quantity     int64
	Reason       string
}

// Tracker submits limit orders and confirms them by polling the broker's
// position until the quantity moved by the requested amount.
type Tracker struct {
	broker   broker.Broker
	registry *Registry
	cfg      config.ExecutionConfig
	clock    utils.Clock
	notifier notifier.Notifier
}

func NewTracker(b broker.Broker, r *Registry, cfg config.ExecutionConfig, clock utils.Clock, n notifier.Notifier) *Tracker {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Tracker{broker: b, registry: r, cfg: cfg, clock: clock, notifier: n}
}

func (t *Tracker) Registry() *Registry { return t.registry }

// Buy places a limit buy slightly above the last price and waits for the
// broker position to grow by the requested quantity. A timeout is not an
// error: the order stays registered as Pending for the sweep.
func (t *Tracker) Buy(ctx context.Context, req BuyRequest) (Fill, error) {
	if req.Quantity <= 0 {
		return Fill{}, fmt.Errorf("invalid buy quantity %d for %s", req.Quantity, req.Symbol)
	}
	if err := t.registry.Guard(req.Symbol, Buy); err != nil {
		return Fill{}, err
	}

	pre, err := t.broker.GetHoldings(ctx, req.Symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("pre-order holdings for %s: %w", req.Symbol, err)
	}
	price, err := t.broker.GetCurrentPrice(ctx, req.Symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("current price for %s: %w", req.Symbol, err)
	}
	if req.AnalysedPrice > 0 {
		if jump := (price - req.AnalysedPrice) / req.AnalysedPrice; jump > t.cfg.MaxPriceJump {
			return Fill{}, fmt.Errorf("%w: %s analysed at %.2f, now %.2f (%+.2f%%)",
				ErrPriceMoved, req.Symbol, req.AnalysedPrice, price, jump*100)
		}
	}

	o := PendingOrder{
		ID:                     utils.NewIDAt(t.clock.Now()),
		Symbol:                 req.Symbol,
		Side:                   Buy,
		TrancheIndex:           req.TrancheIndex,
		SubmittedAt:            t.clock.Now(),
		QuantityRequested:      req.Quantity,
		PriceLimit:             price * (1 + t.cfg.BuyMarkup),
		PreOrderBrokerQuantity: pre.Quantity,
		PreOrderAveragePrice:   pre.AveragePrice,
		Reason:                 req.Reason,
		Status:                 Submitted,
	}
	return t.execute(ctx, o, t.cfg.BuyPollInterval.D(), t.cfg.BuyTimeout.D())
}

// Sell places a limit sell slightly below the last price after checking the
// broker actually holds the quantity.
func (t *Tracker) Sell(ctx context.Context, req SellRequest) (Fill, error) {
	if req.Quantity <= 0 {
		return Fill{}, fmt.Errorf("invalid sell quantity %d for %s", req.Quantity, req.Symbol)
	}
	if err := t.registry.Guard(req.Symbol, Sell); err != nil {
		return Fill{}, err
	}

	pre, err := t.broker.GetHoldings(ctx, req.Symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("pre-order holdings for %s: %w", req.Symbol, err)
	}
	if pre.Quantity < req.Quantity {
		return Fill{}, fmt.Errorf("%w: %s holds %d, sell of %d requested",
			ErrInsufficientHoldings, req.Symbol, pre.Quantity, req.Quantity)
	}
	price, err := t.broker.GetCurrentPrice(ctx, req.Symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("current price for %s: %w", req.Symbol, err)
	}

	o := PendingOrder{
		ID:                     utils.NewIDAt(t.clock.Now()),
		Symbol:                 req.Symbol,
		Side:                   Sell,
		TrancheIndex:           req.TrancheIndex,
		SubmittedAt:            t.clock.Now(),
		QuantityRequested:      req.Quantity,
		PriceLimit:             price * (1 - t.cfg.SellMarkdown),
		PreOrderBrokerQuantity: pre.Quantity,
		PreOrderAveragePrice:   pre.AveragePrice,
		Reason:                 req.Reason,
		Status:                 Submitted,
	}
	return t.execute(ctx, o, t.cfg.SellPollInterval.D(), t.cfg.SellTimeout.D())
}

func (t *Tracker) execute(ctx context.Context, o PendingOrder, interval, timeout time.Duration) (Fill, error) {
	if err := t.registry.Register(ctx, o); err != nil {
		return Fill{}, err
	}

	var ack broker.OrderAck
	var err error
	if o.Side == Buy {
		ack, err = t.broker.SubmitLimitBuy(ctx, o.Symbol, o.QuantityRequested, o.PriceLimit)
	} else {
		ack, err = t.broker.SubmitLimitSell(ctx, o.Symbol, o.QuantityRequested, o.PriceLimit)
	}
	if err != nil {
		metrics.IncOrder(o.Side.String(), "failed")
		if rmErr := t.registry.Remove(ctx, o); rmErr != nil {
			log.Printf("Execution | [%s] %v", o.Symbol, rmErr)
		}
		return Fill{}, fmt.Errorf("submit %s %s: %w", o.Side, o.Symbol, err)
	}
	metrics.IncOrder(o.Side.String(), "submitted")
	o.OrderID = ack.OrderID
	if err := t.registry.Update(ctx, o); err != nil {
		log.Printf("Execution | [%s] %v", o.Symbol, err)
	}
	log.Printf("Execution | [%s] %s order %s accepted: %d @ %.2f (broker qty before %d), confirming for %v",
		o.Symbol, o.Side, o.OrderID, o.QuantityRequested, o.PriceLimit, o.PreOrderBrokerQuantity, timeout)

	var last broker.Holding
	res, pollErr := Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		h, err := t.broker.GetHoldings(ctx, o.Symbol)
		if err != nil {
			return false, err
		}
		last = h
		return o.Satisfied(h.Quantity), nil
	})

	if res.Done {
		fill := t.confirmedFill(o, last)
		if err := t.registry.Remove(ctx, o); err != nil {
			log.Printf("Execution | [%s] %v", o.Symbol, err)
		}
		metrics.IncOrder(o.Side.String(), "filled")
		log.Printf("Execution | [%s] %s filled after %d checks: %d @ %.2f",
			o.Symbol, o.Side, res.Attempts, fill.Quantity, fill.Price)
		return fill, nil
	}

	o.Status = Pending
	if err := t.registry.Update(ctx, o); err != nil {
		log.Printf("Execution | [%s] %v", o.Symbol, err)
	}
	metrics.IncOrder(o.Side.String(), "pending")
	if pollErr != nil {
		return Fill{Order: o}, pollErr
	}

	msg := fmt.Sprintf("%s %s order %s not confirmed within %v: %d @ %.2f, tracking as pending",
		o.Symbol, o.Side, o.OrderID, timeout, o.QuantityRequested, o.PriceLimit)
	log.Printf("Execution | [%s] %s", o.Symbol, msg)
	t.notify(msg)
	return Fill{Order: o}, nil
}

// confirmedFill derives the executed quantity and price from the position
// change, capped at the requested quantity. The price is recovered from the
// change in cost basis when the broker reports one, otherwise the limit price
// is used. Any excess is left for reconciliation.
func (t *Tracker) confirmedFill(o PendingOrder, h broker.Holding) Fill {
	o.Status = Filled
	qty := o.Delta(h.Quantity)
	price := o.PriceLimit
	if o.Side == Buy {
		if p := buyFillPrice(o, h, qty); p > 0 {
			price = p
		}
	}
	if qty > o.QuantityRequested {
		log.Printf("Execution | [%s] %s order %s: position moved by %d, booking the %d requested",
			o.Symbol, o.Side, o.OrderID, qty, o.QuantityRequested)
		qty = o.QuantityRequested
	}
	return Fill{
		Confirmed: true,
		Quantity:  qty,
		Price:     price,
		OrderID:   o.OrderID,
		At:        t.clock.Now(),
		Order:     o,
	}
}

func buyFillPrice(o PendingOrder, h broker.Holding, qty int64) float64 {
	if h.AveragePrice <= 0 || qty <= 0 {
		return 0
	}
	if o.PreOrderBrokerQuantity == 0 {
		return h.AveragePrice
	}
	if o.PreOrderAveragePrice <= 0 {
		return 0
	}
	cost := h.AveragePrice*float64(h.Quantity) - o.PreOrderAveragePrice*float64(o.PreOrderBrokerQuantity)
	return cost / float64(qty)
}

func (t *Tracker) notify(msg string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Send(msg); err != nil {
		log.Printf("Execution | Notification failed: %v", err)
	}
}

package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/amirphl/split-trader/internal/utils"
	"github.com/google/uuid"
)

// PriceFunc supplies market prices to the paper broker.
type PriceFunc func(ctx context.Context, symbol string) (float64, error)

type paperPosition struct {
	qty  int64
	cost float64
}

type paperOrder struct {
	ack      OrderAck
	buy      bool
	visible  time.Time
	reserved float64
}

// Paper simulates an account. A limit order fills at its limit once the
// market price crosses it and FillDelay has elapsed; fills become visible
// the next time the account is read.
type Paper struct {
	FillDelay time.Duration

	mu        sync.Mutex
	cash      float64
	positions map[string]*paperPosition
	prices    map[string]float64
	source    PriceFunc
	open      []*paperOrder
	clock     utils.Clock
}

func NewPaper(cash float64, source PriceFunc, clock utils.Clock) *Paper {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Paper{
		cash:      cash,
		positions: map[string]*paperPosition{},
		prices:    map[string]float64{},
		source:    source,
		clock:     clock,
	}
}

func (p *Paper) Name() string { return "paper" }

// SetPrice fixes the market price of symbol, overriding the price source.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// SetHolding replaces the simulated position of symbol.
func (p *Paper) SetHolding(symbol string, qty int64, avg float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty <= 0 {
		delete(p.positions, symbol)
		return
	}
	p.positions[symbol] = &paperPosition{qty: qty, cost: avg * float64(qty)}
}

func (p *Paper) price(ctx context.Context, symbol string) (float64, error) {
	if v, ok := p.prices[symbol]; ok {
		return v, nil
	}
	if p.source != nil {
		v, err := p.source(ctx, symbol)
		if err != nil {
			return 0, err
		}
		if v > 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w for %s", ErrNoPrice, symbol)
}

// match fills open orders whose limit is crossed. Caller holds p.mu.
func (p *Paper) match(ctx context.Context) {
	now := p.clock.Now()
	remaining := p.open[:0]
	for _, o := range p.open {
		if now.Before(o.visible) {
			remaining = append(remaining, o)
			continue
		}
		mkt, err := p.price(ctx, o.ack.Symbol)
		if err != nil || (o.buy && mkt > o.ack.Price) || (!o.buy && mkt < o.ack.Price) {
			remaining = append(remaining, o)
			continue
		}
		p.fill(o)
	}
	p.open = remaining
}

func (p *Paper) fill(o *paperOrder) {
	pos := p.positions[o.ack.Symbol]
	if pos == nil {
		pos = &paperPosition{}
		p.positions[o.ack.Symbol] = pos
	}
	value := o.ack.Price * float64(o.ack.Quantity)
	if o.buy {
		p.cash += o.reserved - value
		pos.qty += o.ack.Quantity
		pos.cost += value
	} else {
		avg := pos.cost / float64(pos.qty)
		pos.qty -= o.ack.Quantity
		pos.cost -= avg * float64(o.ack.Quantity)
		p.cash += value
		if pos.qty == 0 {
			delete(p.positions, o.ack.Symbol)
		}
	}
	log.Printf("Broker | [%s] Paper %s filled: %d @ %.2f", o.ack.Symbol, o.ack.Side, o.ack.Quantity, o.ack.Price)
}

func (p *Paper) GetHoldings(ctx context.Context, symbol string) (Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.match(ctx)

	h := Holding{Symbol: symbol}
	pos := p.positions[symbol]
	if pos == nil || pos.qty == 0 {
		return h, nil
	}
	h.Quantity = pos.qty
	h.AveragePrice = pos.cost / float64(pos.qty)
	if mkt, err := p.price(ctx, symbol); err == nil && h.AveragePrice > 0 {
		h.UnrealizedPct = (mkt - h.AveragePrice) / h.AveragePrice * 100
	}
	return h, nil
}

func (p *Paper) GetBalance(ctx context.Context) (Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.match(ctx)

	b := Balance{Cash: p.cash, TotalEquity: p.cash}
	for _, o := range p.open {
		b.Locked += o.reserved
		b.TotalEquity += o.reserved
	}
	for symbol, pos := range p.positions {
		mkt, err := p.price(ctx, symbol)
		if err != nil {
			mkt = pos.cost / float64(pos.qty)
		}
		b.TotalEquity += mkt * float64(pos.qty)
	}
	return b, nil
}

func (p *Paper) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price(ctx, symbol)
}

func (p *Paper) SubmitLimitBuy(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty <= 0 || price <= 0 {
		return OrderAck{}, fmt.Errorf("invalid buy order %d @ %.2f", qty, price)
	}
	value := price * float64(qty)
	if value > p.cash {
		return OrderAck{}, fmt.Errorf("%w: buy of %.2f with %.2f cash", ErrInsufficient, value, p.cash)
	}
	p.cash -= value
	return p.place(symbol, "buy", true, qty, price, value), nil
}

func (p *Paper) SubmitLimitSell(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty <= 0 || price <= 0 {
		return OrderAck{}, fmt.Errorf("invalid sell order %d @ %.2f", qty, price)
	}
	var held int64
	if pos := p.positions[symbol]; pos != nil {
		held = pos.qty
	}
	for _, o := range p.open {
		if !o.buy && o.ack.Symbol == symbol {
			held -= o.ack.Quantity
		}
	}
	if qty > held {
		return OrderAck{}, fmt.Errorf("%w: sell of %d with %d available", ErrInsufficient, qty, held)
	}
	return p.place(symbol, "sell", false, qty, price, 0), nil
}

func (p *Paper) place(symbol, side string, buy bool, qty int64, price, reserved float64) OrderAck {
	now := p.clock.Now()
	ack := OrderAck{
		OrderID:     uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		SubmittedAt: now,
	}
	p.open = append(p.open, &paperOrder{ack: ack, buy: buy, visible: now.Add(p.FillDelay), reserved: reserved})
	return ack
}

// Open returns the number of unfilled orders.
func (p *Paper) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

var _ Broker = (*Paper)(nil)

package broker

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/utils"
	wallex "github.com/wallexchange/wallex-go"
)

// Wallex trades against a Wallex account. Ledger shares map to exchange
// quantity through the configured lot size. Wallex does not report a cost
// basis, so holdings carry a zero AveragePrice.
type Wallex struct {
	client *wallex.Client
	lot    float64
	quote  string
	clock  utils.Clock
}

func NewWallex(cfg config.BrokerConfig, clock utils.Clock) *Wallex {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	lot := cfg.LotSize
	if lot <= 0 {
		lot = 1
	}
	return &Wallex{
		client: wallex.New(wallex.ClientOptions{APIKey: cfg.APIKey}),
		lot:    lot,
		quote:  strings.ToUpper(cfg.QuoteAsset),
		clock:  clock,
	}
}

func (w *Wallex) Name() string { return "wallex" }

// NormalizeSymbol converts e.g. btc-tmn to BTCTMN for the Wallex API.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// baseAsset returns the traded asset of a market symbol: BTC for btc-tmn.
func (w *Wallex) baseAsset(symbol string) string {
	s := strings.ToUpper(symbol)
	if i := strings.Index(s, "-"); i > 0 {
		return s[:i]
	}
	return strings.TrimSuffix(s, w.quote)
}

func (w *Wallex) GetHoldings(ctx context.Context, symbol string) (Holding, error) {
	if err := ctx.Err(); err != nil {
		return Holding{}, err
	}
	balances, err := w.client.Balances()
	if err != nil {
		return Holding{}, fmt.Errorf("fetching balances: %w", err)
	}
	h := Holding{Symbol: symbol}
	if b, ok := balances[w.baseAsset(symbol)]; ok && b != nil {
		total := number(&b.Value) + number(&b.Locked)
		h.Quantity = int64(math.Floor(total/w.lot + 1e-9))
	}
	return h, nil
}

// GetBalance values every asset at the last traded price of its quote market.
func (w *Wallex) GetBalance(ctx context.Context) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	balances, err := w.client.Balances()
	if err != nil {
		return Balance{}, fmt.Errorf("fetching balances: %w", err)
	}
	markets, err := w.client.Markets()
	if err != nil {
		return Balance{}, fmt.Errorf("fetching markets: %w", err)
	}
	last := make(map[string]float64, len(markets))
	for _, m := range markets {
		last[m.Symbol] = number(&m.Stats.LastPrice)
	}

	var out Balance
	for asset, b := range balances {
		if b == nil {
			continue
		}
		free := number(&b.Value)
		total := free + number(&b.Locked)
		if strings.EqualFold(asset, w.quote) {
			out.Cash += free
			out.Locked += number(&b.Locked)
			out.TotalEquity += total
			continue
		}
		if total == 0 {
			continue
		}
		price, ok := last[strings.ToUpper(asset)+w.quote]
		if !ok {
			utils.GetLogger().Printf("Broker | %s No %s market for %s, excluded from equity", w.Name(), w.quote, asset)
			continue
		}
		out.TotalEquity += total * price
	}
	return out, nil
}

func (w *Wallex) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	trades, err := w.client.MarketTrades(NormalizeSymbol(symbol))
	if err != nil {
		return 0, fmt.Errorf("fetching latest trade: %w", err)
	}
	if len(trades) == 0 {
		return 0, fmt.Errorf("%w: no trades found for %s", ErrNoPrice, symbol)
	}
	p := number(&trades[0].Price)
	if p <= 0 {
		return 0, fmt.Errorf("%w: invalid trade price for %s", ErrNoPrice, symbol)
	}
	return p, nil
}

func (w *Wallex) SubmitLimitBuy(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error) {
	return w.submit(ctx, symbol, "BUY", qty, price)
}

func (w *Wallex) SubmitLimitSell(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error) {
	return w.submit(ctx, symbol, "SELL", qty, price)
}

func (w *Wallex) submit(ctx context.Context, symbol, side string, qty int64, price float64) (OrderAck, error) {
	if err := ctx.Err(); err != nil {
		utils.GetLogger().Printf("Broker | %s SubmitOrder cancelled", w.Name())
		return OrderAck{}, err
	}
	if qty <= 0 || price <= 0 {
		return OrderAck{}, fmt.Errorf("invalid order %s %d @ %.8f", side, qty, price)
	}
	params := &wallex.OrderParams{
		Symbol:   NormalizeSymbol(symbol),
		Type:     "LIMIT",
		Side:     side,
		Price:    wallex.Number(strconv.FormatFloat(price, 'f', 8, 64)),
		Quantity: wallex.Number(strconv.FormatFloat(float64(qty)*w.lot, 'f', 8, 64)),
	}
	resp, err := w.client.PlaceOrder(params)
	if err != nil {
		return OrderAck{}, fmt.Errorf("placing %s order: %w", strings.ToLower(side), err)
	}
	utils.GetLogger().Printf("Broker | %s Order accepted: id=%s symbol=%s side=%s qty=%d price=%.8f status=%s",
		w.Name(), resp.ClientOrderID, symbol, side, qty, price, resp.Status)

	at := resp.CreatedAt.UTC()
	if at.IsZero() {
		at = w.clock.Now()
	}
	return OrderAck{
		OrderID:     resp.ClientOrderID,
		Symbol:      symbol,
		Side:        strings.ToLower(side),
		Quantity:    qty,
		Price:       price,
		SubmittedAt: at,
	}, nil
}

func number(n *wallex.Number) float64 {
	if n == nil {
		return 0
	}
	out, _ := strconv.ParseFloat(string(*n), 64)
	return out
}

var _ Broker = (*Wallex)(nil)

package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyBroker struct {
	failures    int
	holdCalls   int
	priceCalls  int
	submitCalls int
}

func (f *flakyBroker) Name() string { return "flaky" }

func (f *flakyBroker) GetHoldings(ctx context.Context, symbol string) (Holding, error) {
	f.holdCalls++
	if f.holdCalls <= f.failures {
		return Holding{}, errors.New("connection reset")
	}
	return Holding{Symbol: symbol, Quantity: 7}, nil
}

func (f *flakyBroker) GetBalance(ctx context.Context) (Balance, error) {
	return Balance{TotalEquity: 100, Cash: 50}, nil
}

func (f *flakyBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.priceCalls++
	return 1000 + float64(f.priceCalls), nil
}

func (f *flakyBroker) SubmitLimitBuy(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error) {
	f.submitCalls++
	return OrderAck{}, errors.New("gateway timeout")
}

func (f *flakyBroker) SubmitLimitSell(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error) {
	f.submitCalls++
	return OrderAck{OrderID: "s1"}, nil
}

func newTestLimited(next Broker, clock utils.Clock) (*Limited, *[]time.Duration) {
	cfg := config.Default().Broker
	cfg.CallDelay = 0
	cfg.RetryAttempts = 3
	cfg.RetryDelay = config.Duration(time.Second)
	l := NewLimited(next, cfg, clock)
	var slept []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return l, &slept
}

func TestLimitedRetriesReadsWithBackoff(t *testing.T) {
	f := &flakyBroker{failures: 2}
	l, slept := newTestLimited(f, nil)

	h, err := l.GetHoldings(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, int64(7), h.Quantity)
	assert.Equal(t, 3, f.holdCalls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestLimitedGivesUpAfterAttempts(t *testing.T) {
	f := &flakyBroker{failures: 10}
	l, _ := newTestLimited(f, nil)

	_, err := l.GetHoldings(context.Background(), "A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, 3, f.holdCalls)
}

func TestLimitedNeverRetriesSubmissions(t *testing.T) {
	f := &flakyBroker{}
	l, _ := newTestLimited(f, nil)

	_, err := l.SubmitLimitBuy(context.Background(), "A", 1, 100)
	require.Error(t, err)
	assert.Equal(t, 1, f.submitCalls)
}

func TestLimitedCachesPrices(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	f := &flakyBroker{}
	l, _ := newTestLimited(f, clock)

	p1, err := l.GetCurrentPrice(context.Background(), "A")
	require.NoError(t, err)
	p2, err := l.GetCurrentPrice(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, f.priceCalls)

	clock.Advance(5 * time.Second)
	p3, err := l.GetCurrentPrice(context.Background(), "A")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p3)
	assert.Equal(t, 2, f.priceCalls)
}

func TestLimitedSpacesCalls(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	f := &flakyBroker{}
	cfg := config.Default().Broker
	l := NewLimited(f, cfg, clock)
	var slept []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := l.GetBalance(context.Background())
	require.NoError(t, err)
	_, err = l.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{cfg.CallDelay.D()}, slept)
}

func TestPaperFillsCrossedLimitOrders(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(1_000_000, nil, nil)
	p.SetPrice("A", 10_000)

	_, err := p.SubmitLimitBuy(ctx, "A", 10, 10_100)
	require.NoError(t, err)
	h, err := p.GetHoldings(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(10), h.Quantity)
	assert.InDelta(t, 10_100, h.AveragePrice, 1e-9)

	// A sell above the market waits until the price rises.
	_, err = p.SubmitLimitSell(ctx, "A", 4, 11_000)
	require.NoError(t, err)
	h, _ = p.GetHoldings(ctx, "A")
	assert.Equal(t, int64(10), h.Quantity)
	assert.Equal(t, 1, p.Open())

	p.SetPrice("A", 11_000)
	h, _ = p.GetHoldings(ctx, "A")
	assert.Equal(t, int64(6), h.Quantity)

	b, err := p.GetBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000-101_000+44_000, b.Cash, 1e-6)
	assert.InDelta(t, b.Cash+6*11_000, b.TotalEquity, 1e-6)
}

func TestPaperRejectsOversell(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(0, nil, nil)
	p.SetHolding("A", 5, 100)
	p.SetPrice("A", 200)

	_, err := p.SubmitLimitSell(ctx, "A", 6, 100)
	assert.True(t, errors.Is(err, ErrInsufficient))

	_, err = p.SubmitLimitBuy(ctx, "A", 1, 100)
	assert.True(t, errors.Is(err, ErrInsufficient))
}

func TestPaperFillDelay(t *testing.T) {
	ctx := context.Background()
	clock := utils.NewManualClock(time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC))
	p := NewPaper(1_000_000, func(context.Context, string) (float64, error) { return 100, nil }, clock)
	p.FillDelay = time.Minute

	_, err := p.SubmitLimitBuy(ctx, "A", 3, 101)
	require.NoError(t, err)
	h, _ := p.GetHoldings(ctx, "A")
	assert.Zero(t, h.Quantity)
	b, _ := p.GetBalance(ctx)
	assert.InDelta(t, 303, b.Locked, 1e-9)
	assert.InDelta(t, 1_000_000-303, b.Cash, 1e-9)

	clock.Advance(time.Minute)
	h, _ = p.GetHoldings(ctx, "A")
	assert.Equal(t, int64(3), h.Quantity)
	b, _ = p.GetBalance(ctx)
	assert.Zero(t, b.Locked)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "BTCTMN", NormalizeSymbol("btc-tmn"))
	w := &Wallex{quote: "TMN"}
	assert.Equal(t, "BTC", w.baseAsset("btc-tmn"))
	assert.Equal(t, "ETH", w.baseAsset("ETHTMN"))
}

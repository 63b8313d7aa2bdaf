package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/split-trader/internal/broker"
	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBroker returns holdings from a fixed sequence; the last value
// repeats once the script is exhausted.
type scriptedBroker struct {
	mu         sync.Mutex
	quantities []int64
	average    float64
	price      float64
	holdCalls  int
	submitted  []broker.OrderAck
	submitErr  error
}

func (b *scriptedBroker) Name() string { return "scripted" }

func (b *scriptedBroker) GetHoldings(ctx context.Context, symbol string) (broker.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.holdCalls
	if i >= len(b.quantities) {
		i = len(b.quantities) - 1
	}
	b.holdCalls++
	return broker.Holding{Symbol: symbol, Quantity: b.quantities[i], AveragePrice: b.average}, nil
}

func (b *scriptedBroker) GetBalance(ctx context.Context) (broker.Balance, error) {
	return broker.Balance{}, nil
}

func (b *scriptedBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return b.price, nil
}

func (b *scriptedBroker) submit(symbol, side string, qty int64, price float64) (broker.OrderAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return broker.OrderAck{}, b.submitErr
	}
	ack := broker.OrderAck{OrderID: side + "-1", Symbol: symbol, Side: side, Quantity: qty, Price: price}
	b.submitted = append(b.submitted, ack)
	return ack, nil
}

func (b *scriptedBroker) SubmitLimitBuy(ctx context.Context, symbol string, qty int64, price float64) (broker.OrderAck, error) {
	return b.submit(symbol, "buy", qty, price)
}

func (b *scriptedBroker) SubmitLimitSell(ctx context.Context, symbol string, qty int64, price float64) (broker.OrderAck, error) {
	return b.submit(symbol, "sell", qty, price)
}

type memStore struct {
	mu     sync.Mutex
	orders map[string]PendingOrder
}

func newMemStore() *memStore { return &memStore{orders: map[string]PendingOrder{}} }

func (m *memStore) SavePending(ctx context.Context, o PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *memStore) DeletePending(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, id)
	return nil
}

func (m *memStore) ListPending(ctx context.Context) ([]PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingOrder
	for _, o := range m.orders {
		out = append(out, o)
	}
	return out, nil
}

var start = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func fastConfig() config.ExecutionConfig {
	cfg := config.Default().Execution
	cfg.BuyPollInterval = config.Duration(time.Millisecond)
	cfg.SellPollInterval = config.Duration(time.Millisecond)
	cfg.BuyTimeout = config.Duration(500 * time.Millisecond)
	cfg.SellTimeout = config.Duration(500 * time.Millisecond)
	return cfg
}

func newTestTracker(b broker.Broker, cfg config.ExecutionConfig) (*Tracker, *utils.ManualClock, *memStore) {
	clock := utils.NewManualClock(start)
	store := newMemStore()
	reg := NewRegistry(store, clock, cfg.DuplicateGuard.D())
	return NewTracker(b, reg, cfg, clock, nil), clock, store
}

func TestBuyConfirmsFillByQuantityDelta(t *testing.T) {
	// Pre-order snapshot reads 5, then the polls read 5, 5, 15.
	b := &scriptedBroker{quantities: []int64{5, 5, 5, 15}, price: 1000}
	tr, _, store := newTestTracker(b, fastConfig())

	fill, err := tr.Buy(context.Background(), BuyRequest{Symbol: "XYZ", TrancheIndex: 2, Quantity: 10, AnalysedPrice: 1000})
	require.NoError(t, err)
	assert.True(t, fill.Confirmed)
	assert.Equal(t, int64(10), fill.Quantity)
	assert.Equal(t, 4, b.holdCalls, "filled at the third poll")
	assert.InDelta(t, 1010, fill.Price, 1e-9)
	assert.Equal(t, Filled, fill.Order.Status)
	assert.Equal(t, 2, fill.Order.TrancheIndex)

	require.Len(t, b.submitted, 1)
	assert.InDelta(t, 1010, b.submitted[0].Price, 1e-9)
	assert.Empty(t, tr.Registry().List())
	assert.Empty(t, store.orders)
}

func TestBuyDerivesFillPriceFromCostBasis(t *testing.T) {
	b := &scriptedBroker{quantities: []int64{0, 10}, average: 990, price: 1000}
	tr, _, _ := newTestTracker(b, fastConfig())

	fill, err := tr.Buy(context.Background(), BuyRequest{Symbol: "XYZ", TrancheIndex: 1, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, 990.0, fill.Price)
}

func TestBuyFillCappedAtRequestedQuantity(t *testing.T) {
	// Something else added 7 shares while the order was polled.
	b := &scriptedBroker{quantities: []int64{5, 22}, price: 1000}
	tr, _, _ := newTestTracker(b, fastConfig())

	fill, err := tr.Buy(context.Background(), BuyRequest{Symbol: "XYZ", TrancheIndex: 2, Quantity: 10, AnalysedPrice: 1000})
	require.NoError(t, err)
	assert.True(t, fill.Confirmed)
	assert.Equal(t, int64(10), fill.Quantity)
	assert.InDelta(t, 1010, fill.Price, 1e-9)
}

func TestDuplicateOrderGuard(t *testing.T) {
	b := &scriptedBroker{quantities: []int64{5}, price: 1000}
	tr, clock, _ := newTestTracker(b, fastConfig())

	require.NoError(t, tr.Registry().Register(context.Background(), PendingOrder{
		ID: "01", Symbol: "XYZ", Side: Buy, SubmittedAt: clock.Now(), QuantityRequested: 10, Status: Submitted,
	}))
	clock.Advance(3 * time.Minute)

	_, err := tr.Buy(context.Background(), BuyRequest{Symbol: "XYZ", TrancheIndex: 1, Quantity: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateOrder))
	assert.Contains(t, err.Error(), "duplicate-order guard")
	assert.Empty(t, b.submitted)
	assert.Zero(t, b.holdCalls)

	// A sell for the same symbol occupies a different slot.
	assert.NoError(t, tr.Registry().Guard("XYZ", Sell))

	// Past the guard window a new order supersedes the stale one.
	clock.Advance(8 * time.Minute)
	assert.NoError(t, tr.Registry().Guard("XYZ", Buy))
}

func TestBuyTimeoutLeavesPendingOrder(t *testing.T) {
	cfg := fastConfig()
	cfg.BuyTimeout = config.Duration(10 * time.Millisecond)
	b := &scriptedBroker{quantities: []int64{5}, price: 1000}
	tr, _, store := newTestTracker(b, cfg)

	fill, err := tr.Buy(context.Background(), BuyRequest{Symbol: "XYZ", TrancheIndex: 1, Quantity: 10})
	require.NoError(t, err, "an unconfirmed execution is not an error")
	assert.False(t, fill.Confirmed)

	o, ok := tr.Registry().Get("XYZ", Buy)
	require.True(t, ok)
	assert.Equal(t, Pending, o.Status)
	assert.Equal(t, "buy-1", o.OrderID)
	assert.Equal(t, int64(5), o.PreOrderBrokerQuantity)
	assert.Len(t, store.orders, 1)
}

func TestBuyAbortsOnPriceJump(t *testing.T) {
	b := &scriptedBroker{quantities: []int64{0}, price: 1040}
	tr, _, _ := newTestTracker(b, fastConfig())

	_, err := tr.Buy(context.Background(), BuyRequest{Symbol: "XYZ", TrancheIndex: 1, Quantity: 10, AnalysedPrice: 1000})
	assert.True(t, errors.Is(err, ErrPriceMoved))
	assert.Empty(t, b.submitted)
	assert.Empty(t, tr.Registry().List())
}

func TestSubmitFailureUnregisters(t *testing.T) {
	b := &scriptedBroker{quantities: []int64{0}, price: 1000, submitErr: errors.New("rejected")}
	tr, _, store := newTestTracker(b, fastConfig())

	_, err := tr.Buy(context.Background(), BuyRequest{Symbol: "XYZ", TrancheIndex: 1, Quantity: 10})
	require.Error(t, err)
	assert.Empty(t, tr.Registry().List())
	assert.Empty(t, store.orders)
}

func TestSellConfirmsFill(t *testing.T) {
	b := &scriptedBroker{quantities: []int64{20, 20, 10}, price: 1000}
	tr, _, _ := newTestTracker(b, fastConfig())

	fill, err := tr.Sell(context.Background(), SellRequest{Symbol: "XYZ", TrancheIndex: 2, Quantity: 10, Reason: "stop loss"})
	require.NoError(t, err)
	assert.True(t, fill.Confirmed)
	assert.Equal(t, int64(10), fill.Quantity)
	assert.InDelta(t, 990, fill.Price, 1e-9)
}

func TestSellRequiresHoldings(t *testing.T) {
	b := &scriptedBroker{quantities: []int64{4}, price: 1000}
	tr, _, _ := newTestTracker(b, fastConfig())

	_, err := tr.Sell(context.Background(), SellRequest{Symbol: "XYZ", TrancheIndex: 1, Quantity: 5})
	assert.True(t, errors.Is(err, ErrInsufficientHoldings))
	assert.Empty(t, b.submitted)
}

func TestFillDetectionIsMonotonic(t *testing.T) {
	cases := []struct {
		name      string
		polls     []int64
		confirmed bool
		qty       int64
	}{
		{"exact", []int64{0, 10}, true, 10},
		{"overfill", []int64{0, 4, 12}, true, 12},
		{"partial never confirms", []int64{0, 3, 6, 9}, false, 0},
		{"first satisfying poll wins", []int64{0, 10, 20}, true, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := fastConfig()
			cfg.BuyTimeout = config.Duration(20 * time.Millisecond)
			b := &scriptedBroker{quantities: tc.polls, price: 100}
			tr, _, _ := newTestTracker(b, cfg)

			fill, err := tr.Buy(context.Background(), BuyRequest{Symbol: "M", TrancheIndex: 1, Quantity: 10})
			require.NoError(t, err)
			assert.Equal(t, tc.confirmed, fill.Confirmed)
			if tc.confirmed {
				assert.Equal(t, tc.qty, fill.Quantity)
			}
		})
	}
}

type recordingHandler struct {
	fills []Fill
	err   error
}

func (h *recordingHandler) HandleDelayedFill(ctx context.Context, f Fill) error {
	if h.err != nil {
		return h.err
	}
	h.fills = append(h.fills, f)
	return nil
}

func TestSweepResolvesDelayedFillsAndExpiry(t *testing.T) {
	ctx := context.Background()
	b := &scriptedBroker{quantities: []int64{25}, price: 1000}
	tr, clock, store := newTestTracker(b, fastConfig())
	reg := tr.Registry()

	// Filled late: pre 15 + 10 requested, broker now shows 25.
	require.NoError(t, reg.Register(ctx, PendingOrder{
		ID: "a", Symbol: "FILLED", Side: Buy, TrancheIndex: 2, SubmittedAt: start,
		QuantityRequested: 10, PriceLimit: 1010, PreOrderBrokerQuantity: 15, Status: Pending,
	}))
	// Never filled and past expiry.
	require.NoError(t, reg.Register(ctx, PendingOrder{
		ID: "b", Symbol: "STALE", Side: Sell, SubmittedAt: start.Add(-25 * time.Minute),
		QuantityRequested: 10, PreOrderBrokerQuantity: 25, Status: Pending,
	}))
	// Unfilled but still inside the expiry window.
	require.NoError(t, reg.Register(ctx, PendingOrder{
		ID: "c", Symbol: "WAIT", Side: Buy, SubmittedAt: start,
		QuantityRequested: 10, PreOrderBrokerQuantity: 25, Status: Pending,
	}))

	clock.Advance(5 * time.Minute)
	h := &recordingHandler{}
	res, err := tr.Sweep(ctx, clock.Now(), h)
	require.NoError(t, err)
	require.Len(t, res, 2)

	require.Len(t, h.fills, 1)
	assert.Equal(t, "FILLED", h.fills[0].Order.Symbol)
	assert.Equal(t, int64(10), h.fills[0].Quantity)
	assert.Equal(t, 2, h.fills[0].Order.TrancheIndex)

	var expired []string
	for _, r := range res {
		if r.Expired {
			expired = append(expired, r.Order.Symbol)
		}
	}
	assert.Equal(t, []string{"STALE"}, expired)

	left := reg.List()
	require.Len(t, left, 1)
	assert.Equal(t, "WAIT", left[0].Symbol)
	assert.Len(t, store.orders, 1)
}

func TestSweepSkipsOrdersInsidePollingWindow(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.BuyTimeout = config.Duration(90 * time.Second)
	b := &scriptedBroker{quantities: []int64{10}, price: 1000}
	tr, clock, _ := newTestTracker(b, cfg)
	require.NoError(t, tr.Registry().Register(ctx, PendingOrder{
		ID: "a", Symbol: "A", Side: Buy, SubmittedAt: clock.Now(), QuantityRequested: 10, Status: Submitted,
	}))

	res, err := tr.Sweep(ctx, clock.Now().Add(30*time.Second), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Zero(t, b.holdCalls)
}

func TestSweepRetriesFailedHandlerUntilExpiry(t *testing.T) {
	ctx := context.Background()
	b := &scriptedBroker{quantities: []int64{10}, price: 1000}
	tr, clock, _ := newTestTracker(b, fastConfig())
	require.NoError(t, tr.Registry().Register(ctx, PendingOrder{
		ID: "a", Symbol: "A", Side: Buy, SubmittedAt: clock.Now(), QuantityRequested: 10, Status: Pending,
	}))
	h := &recordingHandler{err: errors.New("ledger save failed")}

	_, err := tr.Sweep(ctx, clock.Now().Add(5*time.Minute), h)
	require.Error(t, err)
	assert.Len(t, tr.Registry().List(), 1)

	res, err := tr.Sweep(ctx, clock.Now().Add(21*time.Minute), h)
	require.Error(t, err)
	assert.Len(t, res, 1)
	assert.Empty(t, tr.Registry().List())
}

func TestRegistryLoadAndCommittedBudget(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	require.NoError(t, store.SavePending(ctx, PendingOrder{ID: "1", Symbol: "A", Side: Buy, SubmittedAt: start, QuantityRequested: 10, PriceLimit: 100}))
	require.NoError(t, store.SavePending(ctx, PendingOrder{ID: "2", Symbol: "B", Side: Buy, SubmittedAt: start, QuantityRequested: 5, PriceLimit: 200}))
	require.NoError(t, store.SavePending(ctx, PendingOrder{ID: "3", Symbol: "A", Side: Sell, SubmittedAt: start, QuantityRequested: 3, PriceLimit: 90}))

	reg := NewRegistry(store, utils.NewManualClock(start), 10*time.Minute)
	require.NoError(t, reg.Load(ctx))
	assert.Len(t, reg.List(), 3)
	assert.True(t, reg.Has("A"))
	assert.False(t, reg.Has("C"))
	assert.Equal(t, 1000.0, reg.CommittedBudget("A"))
	assert.Equal(t, 2000.0, reg.CommittedBudget(""))

	o, _ := reg.Get("A", Buy)
	require.NoError(t, reg.Remove(ctx, o))
	assert.Equal(t, 0.0, reg.CommittedBudget("A"))
	assert.Len(t, store.orders, 2)
}

func TestRegistrySupersedesStaleOrder(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	reg := NewRegistry(store, utils.NewManualClock(start), 10*time.Minute)
	require.NoError(t, reg.Register(ctx, PendingOrder{ID: "old", Symbol: "A", Side: Buy, SubmittedAt: start}))
	require.NoError(t, reg.Register(ctx, PendingOrder{ID: "new", Symbol: "A", Side: Buy, SubmittedAt: start.Add(11 * time.Minute)}))

	o, ok := reg.Get("A", Buy)
	require.True(t, ok)
	assert.Equal(t, "new", o.ID)
	_, stale := store.orders["old"]
	assert.False(t, stale)
}

func TestPollStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	res, err := Poll(ctx, time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return false, errors.New("transient")
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, res.Done)
	assert.GreaterOrEqual(t, res.Attempts, 2)
}

func TestEnumsText(t *testing.T) {
	for _, s := range []Side{Buy, Sell} {
		b, _ := s.MarshalText()
		var back Side
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	for _, s := range []OrderStatus{Submitted, Pending, Filled, Expired} {
		b, _ := s.MarshalText()
		var back OrderStatus
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
	var s Side
	assert.Error(t, s.UnmarshalText([]byte("hold")))
}

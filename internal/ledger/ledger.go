// Package ledger holds the per-instrument tranche state and its durable,
// atomically written JSON representation.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrInvariant is returned when an operation would break a tranche or
	// ledger invariant. Nothing is mutated when it is returned.
	ErrInvariant = errors.New("ledger invariant violated")
	ErrNotFound  = errors.New("instrument ledger not found")
)

// SellReason is the closed set of reasons a tranche quantity can decrease.
type SellReason int

const (
	ReasonUnknown SellReason = iota
	ReasonQuickProfit
	ReasonSafetyProtection
	ReasonTargetReached
	ReasonPartialTarget
	ReasonTimeBased
	ReasonStopLoss
	ReasonDelayedFill
	ReasonReconciliation
)

var reasonNames = map[SellReason]string{
	ReasonUnknown:          "unknown",
	ReasonQuickProfit:      "quick profit",
	ReasonSafetyProtection: "safety protection",
	ReasonTargetReached:    "target reached",
	ReasonPartialTarget:    "partial target",
	ReasonTimeBased:        "time based",
	ReasonStopLoss:         "stop loss",
	ReasonDelayedFill:      "delayed fill",
	ReasonReconciliation:   "reconciliation",
}

func (r SellReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

func (r SellReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *SellReason) UnmarshalText(b []byte) error {
	for k, v := range reasonNames {
		if v == string(b) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown sell reason %q", string(b))
}

// SellRecord is an immutable entry in a tranche's sell history.
type SellRecord struct {
	Date              time.Time  `json:"date"`
	Price             float64    `json:"price"`
	Quantity          int64      `json:"quantity"`
	Reason            SellReason `json:"reason"`
	Note              string     `json:"note,omitempty"`
	RealizedReturnPct float64    `json:"realized_return_pct"`
	MaxProfitAtSale   float64    `json:"max_profit_at_sale"`
	RealizedPnL       float64    `json:"realized_pnl"`
}

// IsStopLoss reports whether the record closed quantity because of a
// stop-loss, including stop-loss orders whose fill was confirmed late.
func (r SellRecord) IsStopLoss() bool {
	return r.Reason == ReasonStopLoss || (r.Reason == ReasonDelayedFill && r.Note == ReasonStopLoss.String())
}

// Tranche is one graduated entry into an instrument.
type Tranche struct {
	Index                  int          `json:"index"`
	IsActive               bool         `json:"is_active"`
	EntryPrice             float64      `json:"entry_price"`
	EntryQuantity          int64        `json:"entry_quantity"`
	CurrentQuantity        int64        `json:"current_quantity"`
	EntryDate              time.Time    `json:"entry_date"`
	SellHistory            []SellRecord `json:"sell_history"`
	HighWaterMarkProfitPct float64      `json:"high_water_mark_profit_pct"`
	PartialSold            bool         `json:"partial_sold"`
}

// ProfitPct returns the unrealized return of the tranche at price, in percent.
func (t *Tranche) ProfitPct(price float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return (price - t.EntryPrice) / t.EntryPrice * 100
}

// HoldingDays returns whole days since entry.
func (t *Tranche) HoldingDays(now time.Time) int {
	if t.EntryDate.IsZero() || now.Before(t.EntryDate) {
		return 0
	}
	return int(now.Sub(t.EntryDate).Hours() / 24)
}

// Activate opens the tranche with a confirmed fill.
func (t *Tranche) Activate(price float64, qty int64, at time.Time) error {
	if t.IsActive {
		return fmt.Errorf("%w: tranche %d is already active", ErrInvariant, t.Index)
	}
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("%w: tranche %d buy of %d at %.2f", ErrInvariant, t.Index, qty, price)
	}
	t.activate(price, qty, at)
	return nil
}

// ApplySell removes quantity from the tranche and appends the record. The
// caller is responsible for the sequential rule across tranches.
func (t *Tranche) ApplySell(in SellInput) (SellRecord, error) {
	if !t.IsActive {
		return SellRecord{}, fmt.Errorf("%w: tranche %d is not active", ErrInvariant, t.Index)
	}
	if in.Quantity <= 0 || in.Quantity > t.CurrentQuantity {
		return SellRecord{}, fmt.Errorf("%w: tranche %d sell of %d with %d held", ErrInvariant, t.Index, in.Quantity, t.CurrentQuantity)
	}
	rec := SellRecord{
		Date:              in.At,
		Price:             in.Price,
		Quantity:          in.Quantity,
		Reason:            in.Reason,
		Note:              in.Note,
		RealizedReturnPct: t.ProfitPct(in.Price),
		MaxProfitAtSale:   t.HighWaterMarkProfitPct,
	}
	if in.Reason != ReasonReconciliation {
		rec.RealizedPnL = in.Fees.RealizedPnL(t.EntryPrice, in.Price, in.Quantity)
	} else {
		rec.RealizedReturnPct = 0
	}
	t.SellHistory = append(t.SellHistory, rec)
	t.CurrentQuantity -= in.Quantity
	if t.CurrentQuantity == 0 {
		t.Reset()
	}
	return rec, nil
}

// Reset deactivates the tranche. Entry fields and sell history are kept.
func (t *Tranche) Reset() {
	t.IsActive = false
	t.CurrentQuantity = 0
	t.HighWaterMarkProfitPct = 0
	t.PartialSold = false
}

func (t *Tranche) activate(price float64, qty int64, at time.Time) {
	t.IsActive = true
	t.EntryPrice = price
	t.EntryQuantity = qty
	t.CurrentQuantity = qty
	t.EntryDate = at
	t.HighWaterMarkProfitPct = 0
	t.PartialSold = false
}

func (t *Tranche) validate() error {
	if t.CurrentQuantity < 0 || t.EntryQuantity < 0 {
		return fmt.Errorf("%w: tranche %d has negative quantity", ErrInvariant, t.Index)
	}
	if t.CurrentQuantity > t.EntryQuantity {
		return fmt.Errorf("%w: tranche %d current %d exceeds entry %d", ErrInvariant, t.Index, t.CurrentQuantity, t.EntryQuantity)
	}
	if t.IsActive != (t.CurrentQuantity > 0) {
		return fmt.Errorf("%w: tranche %d active=%v with quantity %d", ErrInvariant, t.Index, t.IsActive, t.CurrentQuantity)
	}
	return nil
}

// InstrumentLedger is the full tranche state of one traded symbol.
type InstrumentLedger struct {
	Symbol      string             `json:"symbol"`
	Name        string             `json:"name,omitempty"`
	Tranches    []Tranche          `json:"tranches"`
	RealizedPnL float64            `json:"realized_pnl"`
	MonthlyPnL  map[string]float64 `json:"monthly_pnl"`

	LastSellAt        time.Time  `json:"last_sell_at"`
	LastSellReason    SellReason `json:"last_sell_reason"`
	LastSellReturnPct float64    `json:"last_sell_return_pct"`
	LastSellStopLoss  bool       `json:"last_sell_stop_loss"`
	LastStopLossAt    time.Time  `json:"last_stop_loss_at"`

	DailyBuyDate  string `json:"daily_buy_date,omitempty"`
	DailyBuyCount int    `json:"daily_buy_count"`
}

// New creates an empty ledger with n inactive tranches.
func New(symbol, name string, n int) *InstrumentLedger {
	l := &InstrumentLedger{
		Symbol:     symbol,
		Name:       name,
		Tranches:   make([]Tranche, n),
		MonthlyPnL: map[string]float64{},
	}
	for i := range l.Tranches {
		l.Tranches[i].Index = i + 1
	}
	return l
}

// Clone returns a deep copy.
func (l *InstrumentLedger) Clone() *InstrumentLedger {
	c := *l
	c.Tranches = make([]Tranche, len(l.Tranches))
	for i, t := range l.Tranches {
		c.Tranches[i] = t
		if t.SellHistory != nil {
			c.Tranches[i].SellHistory = append([]SellRecord{}, t.SellHistory...)
		}
	}
	c.MonthlyPnL = make(map[string]float64, len(l.MonthlyPnL))
	for k, v := range l.MonthlyPnL {
		c.MonthlyPnL[k] = v
	}
	return &c
}

// Tranche returns tranche k (1-based) or nil.
func (l *InstrumentLedger) Tranche(k int) *Tranche {
	if k < 1 || k > len(l.Tranches) {
		return nil
	}
	return &l.Tranches[k-1]
}

// ActiveQuantity sums the current quantity of active tranches.
func (l *InstrumentLedger) ActiveQuantity() int64 {
	var q int64
	for i := range l.Tranches {
		if l.Tranches[i].IsActive {
			q += l.Tranches[i].CurrentQuantity
		}
	}
	return q
}

// ActiveTranches returns pointers to active tranches in index order.
func (l *InstrumentLedger) ActiveTranches() []*Tranche {
	var out []*Tranche
	for i := range l.Tranches {
		if l.Tranches[i].IsActive {
			out = append(out, &l.Tranches[i])
		}
	}
	return out
}

// FirstInactive returns the lowest-index inactive tranche, or nil when all are
// active.
func (l *InstrumentLedger) FirstInactive() *Tranche {
	for i := range l.Tranches {
		if !l.Tranches[i].IsActive {
			return &l.Tranches[i]
		}
	}
	return nil
}

// AverageEntry is the quantity-weighted entry price of the active tranches.
func (l *InstrumentLedger) AverageEntry() float64 {
	var cost float64
	var qty int64
	for _, t := range l.ActiveTranches() {
		cost += t.EntryPrice * float64(t.CurrentQuantity)
		qty += t.CurrentQuantity
	}
	if qty == 0 {
		return 0
	}
	return cost / float64(qty)
}

// EarliestEntry returns the oldest entry date among active tranches.
func (l *InstrumentLedger) EarliestEntry() time.Time {
	var earliest time.Time
	for _, t := range l.ActiveTranches() {
		if earliest.IsZero() || t.EntryDate.Before(earliest) {
			earliest = t.EntryDate
		}
	}
	return earliest
}

// UpdateHighWater raises each active tranche's high-water profit mark.
func (l *InstrumentLedger) UpdateHighWater(price float64) {
	for _, t := range l.ActiveTranches() {
		if p := t.ProfitPct(price); p > t.HighWaterMarkProfitPct {
			t.HighWaterMarkProfitPct = p
		}
	}
}

// BuysOn returns the number of buys recorded for the given day (YYYY-MM-DD).
func (l *InstrumentLedger) BuysOn(day string) int {
	if l.DailyBuyDate != day {
		return 0
	}
	return l.DailyBuyCount
}

// Buy activates tranche k with a confirmed fill.
func (l *InstrumentLedger) Buy(k int, price float64, qty int64, at time.Time) error {
	t := l.Tranche(k)
	if t == nil {
		return fmt.Errorf("%w: %s has no tranche %d", ErrInvariant, l.Symbol, k)
	}
	if k > 1 && !l.Tranches[k-2].IsActive {
		return fmt.Errorf("%w: %s tranche %d requires tranche %d to be active", ErrInvariant, l.Symbol, k, k-1)
	}
	if err := t.Activate(price, qty, at); err != nil {
		return fmt.Errorf("%s: %w", l.Symbol, err)
	}

	day := at.Format("2006-01-02")
	if l.DailyBuyDate != day {
		l.DailyBuyDate = day
		l.DailyBuyCount = 0
	}
	l.DailyBuyCount++
	return nil
}

// SellInput describes a confirmed sale out of one tranche.
type SellInput struct {
	Price    float64
	Quantity int64
	Reason   SellReason
	Note     string
	At       time.Time
	Fees     Fees
}

// Sell removes quantity from tranche k and appends the SellRecord. A sale
// that would close tranche k while tranche k+1 is still active is rejected.
func (l *InstrumentLedger) Sell(k int, in SellInput) (SellRecord, error) {
	t := l.Tranche(k)
	if t == nil {
		return SellRecord{}, fmt.Errorf("%w: %s has no tranche %d", ErrInvariant, l.Symbol, k)
	}
	if in.Quantity == t.CurrentQuantity && k < len(l.Tranches) && l.Tranches[k].IsActive {
		return SellRecord{}, fmt.Errorf("%w: %s tranche %d cannot close while tranche %d is active", ErrInvariant, l.Symbol, k, k+1)
	}
	rec, err := t.ApplySell(in)
	if err != nil {
		return SellRecord{}, fmt.Errorf("%s: %w", l.Symbol, err)
	}
	if in.Reason != ReasonReconciliation {
		l.bookPnL(in.At, rec.RealizedPnL)
		l.LastSellAt = in.At
		l.LastSellReason = rec.Reason
		l.LastSellReturnPct = rec.RealizedReturnPct
		l.LastSellStopLoss = rec.IsStopLoss()
		if rec.IsStopLoss() {
			l.LastStopLossAt = in.At
		}
	}
	return rec, nil
}

func (l *InstrumentLedger) bookPnL(at time.Time, pnl float64) {
	l.RealizedPnL = addMoney(l.RealizedPnL, pnl)
	if l.MonthlyPnL == nil {
		l.MonthlyPnL = map[string]float64{}
	}
	month := at.Format("2006-01")
	l.MonthlyPnL[month] = addMoney(l.MonthlyPnL[month], pnl)
}

// Restore sets tranche 1 to the given position and resets every other
// tranche. Quantity removed from any tranche is written to its sell history
// as a reconciliation record, so history stays complete.
func (l *InstrumentLedger) Restore(qty int64, price float64, entryDate time.Time, at time.Time) {
	for i := len(l.Tranches) - 1; i >= 0; i-- {
		t := &l.Tranches[i]
		if !t.IsActive {
			continue
		}
		keep := int64(0)
		if i == 0 {
			keep = qty
		}
		if t.CurrentQuantity > keep {
			t.SellHistory = append(t.SellHistory, SellRecord{
				Date:              at,
				Price:             t.EntryPrice,
				Quantity:          t.CurrentQuantity - keep,
				Reason:            ReasonReconciliation,
				MaxProfitAtSale:   t.HighWaterMarkProfitPct,
				RealizedReturnPct: 0,
			})
		}
		if i > 0 {
			t.Reset()
		}
	}
	if qty <= 0 {
		if len(l.Tranches) > 0 {
			l.Tranches[0].Reset()
		}
		return
	}
	first := &l.Tranches[0]
	hw, partial := first.HighWaterMarkProfitPct, first.PartialSold
	wasActive := first.IsActive
	first.activate(price, qty, entryDate)
	if wasActive {
		first.HighWaterMarkProfitPct, first.PartialSold = hw, partial
	}
}

// Clear deactivates every tranche, recording the removed quantity.
func (l *InstrumentLedger) Clear(at time.Time) {
	l.Restore(0, 0, time.Time{}, at)
}

// StopLossEvents returns the distinct stop-loss liquidations at or after
// since. Records written in the same liquidation share a timestamp.
func (l *InstrumentLedger) StopLossEvents(since time.Time) []time.Time {
	seen := map[int64]time.Time{}
	for _, t := range l.Tranches {
		for _, r := range t.SellHistory {
			if r.IsStopLoss() && !r.Date.Before(since) {
				seen[r.Date.Truncate(time.Second).Unix()] = r.Date
			}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Validate checks the per-tranche invariants and the sequential-entry
// invariant.
func (l *InstrumentLedger) Validate() error {
	for i := range l.Tranches {
		t := &l.Tranches[i]
		if t.Index != i+1 {
			return fmt.Errorf("%w: %s tranche at position %d has index %d", ErrInvariant, l.Symbol, i+1, t.Index)
		}
		if err := t.validate(); err != nil {
			return fmt.Errorf("%s: %w", l.Symbol, err)
		}
		if i > 0 && t.IsActive && !l.Tranches[i-1].IsActive {
			return fmt.Errorf("%w: %s tranche %d active while tranche %d is not", ErrInvariant, l.Symbol, i+1, i)
		}
	}
	return nil
}

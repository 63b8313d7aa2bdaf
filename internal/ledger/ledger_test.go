package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

func noFees() Fees { return Fees{} }

func TestBuyEnforcesSequentialEntry(t *testing.T) {
	l := New("005930", "Samsung", 5)

	err := l.Buy(2, 100, 10, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
	assert.False(t, l.Tranche(2).IsActive)

	require.NoError(t, l.Buy(1, 100, 10, t0))
	require.NoError(t, l.Buy(2, 95, 12, t0.Add(time.Hour)))
	assert.Equal(t, int64(22), l.ActiveQuantity())
	assert.Equal(t, 3, l.FirstInactive().Index)
	assert.Equal(t, 2, l.BuysOn("2025-03-10"))
	assert.NoError(t, l.Validate())

	err = l.Buy(2, 90, 5, t0)
	assert.True(t, errors.Is(err, ErrInvariant), "already active tranche must not be reopened")
}

func TestSellCannotCloseLowerTrancheWhileHigherActive(t *testing.T) {
	l := New("005930", "", 3)
	require.NoError(t, l.Buy(1, 100, 10, t0))
	require.NoError(t, l.Buy(2, 95, 10, t0))

	_, err := l.Sell(1, SellInput{Price: 110, Quantity: 10, Reason: ReasonTargetReached, At: t0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariant))
	assert.Equal(t, int64(10), l.Tranche(1).CurrentQuantity)

	// A partial sale of tranche 1 is allowed.
	_, err = l.Sell(1, SellInput{Price: 110, Quantity: 4, Reason: ReasonPartialTarget, At: t0})
	require.NoError(t, err)

	_, err = l.Sell(2, SellInput{Price: 110, Quantity: 10, Reason: ReasonTargetReached, At: t0})
	require.NoError(t, err)
	_, err = l.Sell(1, SellInput{Price: 110, Quantity: 6, Reason: ReasonTargetReached, At: t0})
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.ActiveQuantity())
	assert.NoError(t, l.Validate())
}

func TestSellRejectsOversell(t *testing.T) {
	l := New("A", "", 2)
	require.NoError(t, l.Buy(1, 100, 5, t0))
	_, err := l.Sell(1, SellInput{Price: 100, Quantity: 6, Reason: ReasonStopLoss, At: t0})
	assert.True(t, errors.Is(err, ErrInvariant))
	_, err = l.Sell(2, SellInput{Price: 100, Quantity: 1, Reason: ReasonStopLoss, At: t0})
	assert.True(t, errors.Is(err, ErrInvariant))
}

func TestQuantityConservation(t *testing.T) {
	l := New("A", "", 3)
	var bought int64

	require.NoError(t, l.Buy(1, 100, 40, t0))
	bought += 40
	require.NoError(t, l.Buy(2, 95, 30, t0))
	bought += 30
	_, err := l.Sell(2, SellInput{Price: 99, Quantity: 15, Reason: ReasonQuickProfit, At: t0})
	require.NoError(t, err)
	_, err = l.Sell(1, SellInput{Price: 99, Quantity: 7, Reason: ReasonPartialTarget, At: t0})
	require.NoError(t, err)
	_, err = l.Sell(2, SellInput{Price: 99, Quantity: 15, Reason: ReasonTargetReached, At: t0})
	require.NoError(t, err)

	var sold int64
	for _, tr := range l.Tranches {
		for _, r := range tr.SellHistory {
			sold += r.Quantity
		}
	}
	assert.Equal(t, bought-sold, l.ActiveQuantity())
	for _, tr := range l.Tranches {
		assert.LessOrEqual(t, tr.CurrentQuantity, tr.EntryQuantity)
	}
}

func TestSellRecordsPnLAndCooldownState(t *testing.T) {
	l := New("A", "", 2)
	require.NoError(t, l.Buy(1, 10000, 10, t0))
	l.UpdateHighWater(11000)

	fees := Fees{Commission: 0.00015, Tax: 0.0023, SpecialTax: 0.0015}
	at := t0.Add(48 * time.Hour)
	rec, err := l.Sell(1, SellInput{Price: 10800, Quantity: 10, Reason: ReasonSafetyProtection, At: at, Fees: fees})
	require.NoError(t, err)

	assert.InDelta(t, 8.0, rec.RealizedReturnPct, 1e-9)
	assert.InDelta(t, 10.0, rec.MaxProfitAtSale, 1e-9)
	// proceeds 108000 - 0.00395*108000 = 107573.40, cost 100000 + 15 = 100015
	assert.InDelta(t, 7558.40, rec.RealizedPnL, 1e-6)
	assert.InDelta(t, 7558.40, l.RealizedPnL, 1e-6)
	assert.InDelta(t, 7558.40, l.MonthlyPnL["2025-03"], 1e-6)
	assert.Equal(t, at, l.LastSellAt)
	assert.Equal(t, ReasonSafetyProtection, l.LastSellReason)
	assert.False(t, l.LastSellStopLoss)
	assert.True(t, l.LastStopLossAt.IsZero())
	assert.False(t, l.Tranche(1).IsActive)
}

func TestRestoreCollapsesToFirstTranche(t *testing.T) {
	l := New("A", "", 3)
	require.NoError(t, l.Buy(1, 100, 10, t0))
	require.NoError(t, l.Buy(2, 90, 10, t0.Add(time.Hour)))

	l.Restore(15, 96, l.EarliestEntry(), t0.Add(2*time.Hour))

	require.NoError(t, l.Validate())
	assert.Equal(t, int64(15), l.ActiveQuantity())
	assert.Equal(t, 96.0, l.Tranche(1).EntryPrice)
	assert.Equal(t, t0, l.Tranche(1).EntryDate)
	assert.False(t, l.Tranche(2).IsActive)

	hist := l.Tranche(2).SellHistory
	require.Len(t, hist, 1)
	assert.Equal(t, ReasonReconciliation, hist[0].Reason)
	assert.Equal(t, int64(10), hist[0].Quantity)
	assert.Zero(t, l.RealizedPnL, "reconciliation repairs do not book PnL")
}

func TestClearRecordsRemovedQuantity(t *testing.T) {
	l := New("A", "", 2)
	require.NoError(t, l.Buy(1, 100, 10, t0))
	l.Clear(t0.Add(time.Hour))

	assert.Zero(t, l.ActiveQuantity())
	require.Len(t, l.Tranche(1).SellHistory, 1)
	assert.Equal(t, ReasonReconciliation, l.Tranche(1).SellHistory[0].Reason)
	assert.NoError(t, l.Validate())
}

func TestStopLossEventsGroupsOneLiquidation(t *testing.T) {
	l := New("A", "", 3)
	require.NoError(t, l.Buy(1, 100, 10, t0))
	require.NoError(t, l.Buy(2, 90, 10, t0))
	at := t0.Add(24 * time.Hour)
	_, err := l.Sell(2, SellInput{Price: 70, Quantity: 10, Reason: ReasonStopLoss, At: at, Fees: noFees()})
	require.NoError(t, err)
	_, err = l.Sell(1, SellInput{Price: 70, Quantity: 10, Reason: ReasonStopLoss, At: at, Fees: noFees()})
	require.NoError(t, err)

	require.NoError(t, l.Buy(1, 80, 10, at.Add(48*time.Hour)))
	later := at.Add(72 * time.Hour)
	_, err = l.Sell(1, SellInput{Price: 70, Quantity: 10, Reason: ReasonDelayedFill, Note: ReasonStopLoss.String(), At: later, Fees: noFees()})
	require.NoError(t, err)

	assert.Len(t, l.StopLossEvents(t0), 2)
	assert.Len(t, l.StopLossEvents(later), 1)
	assert.Equal(t, later, l.LastStopLossAt)
}

func TestValidateDetectsBrokenState(t *testing.T) {
	l := New("A", "", 3)
	l.Tranches[1].IsActive = true
	l.Tranches[1].CurrentQuantity = 5
	l.Tranches[1].EntryQuantity = 5
	assert.True(t, errors.Is(l.Validate(), ErrInvariant))

	l = New("A", "", 3)
	l.Tranches[0].IsActive = true
	l.Tranches[0].CurrentQuantity = 6
	l.Tranches[0].EntryQuantity = 5
	assert.True(t, errors.Is(l.Validate(), ErrInvariant))
}

func TestCloneIsDeep(t *testing.T) {
	l := New("A", "", 2)
	require.NoError(t, l.Buy(1, 100, 10, t0))
	_, err := l.Sell(1, SellInput{Price: 110, Quantity: 3, Reason: ReasonQuickProfit, At: t0})
	require.NoError(t, err)

	c := l.Clone()
	c.Tranches[0].SellHistory[0].Quantity = 99
	c.MonthlyPnL["2025-03"] = 1
	c.Tranches[0].CurrentQuantity = 1

	assert.Equal(t, int64(3), l.Tranches[0].SellHistory[0].Quantity)
	assert.Equal(t, int64(7), l.Tranches[0].CurrentQuantity)
	assert.NotEqual(t, 1.0, l.MonthlyPnL["2025-03"])
}

func TestSellReasonText(t *testing.T) {
	for r := ReasonUnknown; r <= ReasonReconciliation; r++ {
		b, err := r.MarshalText()
		require.NoError(t, err)
		var back SellReason
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, r, back)
	}
	var r SellReason
	assert.Error(t, r.UnmarshalText([]byte("moon")))
}

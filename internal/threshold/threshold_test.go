package threshold

import (
	"math"
	"testing"
	"time"

	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCalc() *Calculator { return New(config.Default()) }

func TestStopLossHighVolatilityStrongDowntrendLongHold(t *testing.T) {
	c := newCalc()
	base2 := -0.20

	got, bd := c.StopLoss(StopLossInput{
		Position:      2,
		HoldingDays:   200,
		VolatilityPct: 7.2,
		Regime:        signal.StrongDowntrend,
	})

	// -0.20 -0.04 -0.03 = -0.27; the 180-day tier (-0.08) is stricter and
	// replaces it; the result is then clamped into [1.5*base, 0.5*base].
	running := base2 - 0.04 - 0.03
	if -0.08 > running {
		running = -0.08
	}
	want := math.Max(base2*1.5, math.Min(base2*0.5, running))
	assert.InDelta(t, want, got, 1e-9)
	assert.InDelta(t, -0.10, got, 1e-9)
	assert.False(t, bd.Fallback())
	assert.Contains(t, bd.String(), "clamped")
}

func TestStopLossTable(t *testing.T) {
	c := newCalc()
	tests := []struct {
		name string
		in   StopLossInput
		want float64
	}{
		{"first tranche calm", StopLossInput{Position: 1, HoldingDays: 5, VolatilityPct: 2}, -0.15},
		{"second tranche medium vol", StopLossInput{Position: 2, HoldingDays: 5, VolatilityPct: 4}, -0.22},
		{"third tranche uptrend", StopLossInput{Position: 3, HoldingDays: 10, VolatilityPct: 1, Regime: signal.Uptrend}, -0.24},
		{"fifth tranche uses 3+ base", StopLossInput{Position: 5, HoldingDays: 10, VolatilityPct: 1, Regime: signal.Downtrend}, -0.265},
		{"90 day tier is stricter", StopLossInput{Position: 1, HoldingDays: 100, VolatilityPct: 1}, -0.12},
		{"365 day tier clamps", StopLossInput{Position: 3, HoldingDays: 400, VolatilityPct: 1}, -0.125},
		{"strong uptrend loosens", StopLossInput{Position: 2, HoldingDays: 1, VolatilityPct: 1, Regime: signal.StrongUptrend}, -0.18},
		{"stacked adjustments stay in bounds", StopLossInput{Position: 1, HoldingDays: 1, VolatilityPct: 9, Regime: signal.StrongDowntrend}, -0.22},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := c.StopLoss(tt.in)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestStopLossOverrideReplacesBase(t *testing.T) {
	c := newCalc()
	override := &config.StopLossTable{Position1: -0.10, Position2: -0.12, Position3Plus: -0.14}
	got, bd := c.StopLoss(StopLossInput{Position: 2, HoldingDays: 3, VolatilityPct: 1, Override: override})
	assert.InDelta(t, -0.12, got, 1e-9)
	assert.Contains(t, bd.String(), "override")
}

func TestStopLossFallsBackOnBadInput(t *testing.T) {
	c := newCalc()
	for _, in := range []StopLossInput{
		{Position: 2, HoldingDays: 10, VolatilityPct: math.NaN(), Regime: signal.StrongDowntrend},
		{Position: 2, HoldingDays: -1, VolatilityPct: 9},
		{Position: 2, HoldingDays: 10, VolatilityPct: math.Inf(1)},
	} {
		got, bd := c.StopLoss(in)
		assert.InDelta(t, -0.20, got, 1e-9)
		assert.True(t, bd.Fallback(), bd.String())
	}
	got, bd := c.StopLoss(StopLossInput{Position: 0, VolatilityPct: 1})
	assert.InDelta(t, -0.15, got, 1e-9)
	assert.True(t, bd.Fallback())
}

func TestCooldown(t *testing.T) {
	c := newCalc()
	half := 0.5
	tests := []struct {
		name string
		in   CooldownInput
		want time.Duration
	}{
		{"growth profit", CooldownInput{Type: config.Growth, ReturnPct: 12, VolatilityPct: 2}, hours(6 * 1.5 * 0.9 * 0.9 * 0.8)},
		{"value stop-loss downtrend", CooldownInput{Type: config.Value, ReturnPct: -18, StopLoss: true, VolatilityPct: 7, Regime: signal.Downtrend}, hours(8 * 0.6 * 0.7 * 0.6 * 1.2)},
		{"growth big win volatile", CooldownInput{Type: config.Growth, ReturnPct: 22, VolatilityPct: 8, Regime: signal.Uptrend, HighVolatilityMultiplier: &half}, hours(6 * 2.0 * 0.5 * 1.1 * 0.8)},
		{"clamped to minimum", CooldownInput{Type: config.Growth, ReturnPct: -20, StopLoss: true, VolatilityPct: 8, Regime: signal.StrongDowntrend, HighVolatilityMultiplier: &half}, time.Hour},
		{"general small loss", CooldownInput{ReturnPct: -3, VolatilityPct: 1}, hours(6 * 0.8 * 0.9 * 0.9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := c.Cooldown(tt.in)
			assert.InDelta(t, float64(tt.want), float64(got), float64(time.Millisecond))
		})
	}

	got, bd := c.Cooldown(CooldownInput{Type: config.Value, ReturnPct: math.NaN(), VolatilityPct: 2})
	assert.Equal(t, 8*time.Hour, got)
	assert.True(t, bd.Fallback())
}

func TestCooldownClampedToMaximum(t *testing.T) {
	cfg := config.Default()
	cfg.Cooldown.ValueBaseHours = 30
	c := New(cfg)
	got, bd := c.Cooldown(CooldownInput{Type: config.Value, ReturnPct: 25, VolatilityPct: 1, Regime: signal.Uptrend})
	assert.Equal(t, 48*time.Hour, got)
	assert.Contains(t, bd.String(), "clamped")
}

func TestCooldownRemaining(t *testing.T) {
	c := newCalc()
	now := time.Date(2024, 7, 10, 10, 0, 0, 0, time.UTC)

	left, bd := c.CooldownRemaining(CooldownState{
		Now:            now,
		LastSellAt:     now.Add(-10 * time.Hour),
		LastStopLossAt: now.Add(-10 * time.Hour),
		Last:           CooldownInput{StopLoss: true, ReturnPct: -15, VolatilityPct: 1},
	})
	assert.Equal(t, 14*time.Hour, left)
	assert.Contains(t, bd.String(), "stop-loss")

	left, _ = c.CooldownRemaining(CooldownState{
		Now:        now,
		LastSellAt: now.Add(-2 * time.Hour),
		Last:       CooldownInput{ReturnPct: 8, VolatilityPct: 1},
	})
	assert.Equal(t, 4*time.Hour, left)

	left, _ = c.CooldownRemaining(CooldownState{
		Now:        now,
		LastSellAt: now.Add(-2 * time.Hour),
		Last:       CooldownInput{ReturnPct: -3, VolatilityPct: 1},
	})
	want := hours(6*0.8*0.9*0.9) - 2*time.Hour
	assert.InDelta(t, float64(want), float64(left), float64(time.Millisecond))

	left, bd = c.CooldownRemaining(CooldownState{
		Now:        now,
		LastSellAt: now.Add(-4 * 24 * time.Hour),
		Last:       CooldownInput{ReturnPct: 30, VolatilityPct: 1},
	})
	assert.Zero(t, left)
	assert.Contains(t, bd.String(), "outside")

	left, _ = c.CooldownRemaining(CooldownState{Now: now})
	assert.Zero(t, left)
}

func TestRequiredPullback(t *testing.T) {
	c := newCalc()
	tests := []struct {
		name   string
		k      int
		rsi    float64
		regime signal.Regime
		vol    float64
		want   float64
	}{
		{"tranche 2 neutral", 2, 50, signal.Neutral, 2, 0.045},
		{"tranche 2 oversold downtrend volatile clamps", 2, 20, signal.Downtrend, 6, 0.0225},
		{"tranche 3 overbought uptrend", 3, 80, signal.Uptrend, 2, 0.075},
		{"tranche 4 strong downtrend", 4, 50, signal.StrongDowntrend, 2, 0.055},
		{"tranche 5 high volatility", 5, 40, signal.Neutral, 5.5, 0.08},
		{"unknown tranche uses default", 7, 50, signal.Neutral, 2, 0.06},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := c.RequiredPullback(tt.k, tt.rsi, tt.regime, tt.vol)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	got, bd := c.RequiredPullback(3, math.NaN(), signal.StrongDowntrend, 9)
	assert.InDelta(t, 0.055, got, 1e-9)
	require.True(t, bd.Fallback())
}

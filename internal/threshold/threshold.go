// Package threshold computes the numeric gates for a tranche: the adaptive
// stop-loss, the re-entry cooldown after a sell and the pullback required
// before the next tranche may open.
//
// Every function is pure. Stop-loss thresholds are negative fractions
// (-0.20 means a 20% loss) and a threshold is stricter when it is closer to
// zero. Missing or non-finite inputs never raise: the calculator returns the
// unadjusted base and records the fallback in the Breakdown.
package threshold

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/signal"
)

// Breakdown is the human-readable trail of how a value was derived.
type Breakdown []string

func (b *Breakdown) add(format string, args ...any) {
	*b = append(*b, fmt.Sprintf(format, args...))
}

func (b Breakdown) String() string { return strings.Join(b, "; ") }

// Fallback reports whether the result is an unadjusted base due to bad input.
func (b Breakdown) Fallback() bool {
	for _, s := range b {
		if strings.HasPrefix(s, "fallback") {
			return true
		}
	}
	return false
}

type Calculator struct {
	stopLoss config.StopLossConfig
	cooldown config.CooldownConfig
	pullback config.PullbackConfig
}

func New(cfg config.Config) *Calculator {
	tiers := append([]config.TimeTier(nil), cfg.StopLoss.TimeTiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinDays > tiers[j].MinDays })
	sl := cfg.StopLoss
	sl.TimeTiers = tiers
	return &Calculator{
		stopLoss: sl,
		cooldown: cfg.Cooldown,
		pullback: cfg.Pullback,
	}
}

// StopLossInput describes the position whose stop-loss is being computed.
type StopLossInput struct {
	// Position is the number of active tranches (1-based).
	Position      int
	HoldingDays   int
	VolatilityPct float64
	Regime        signal.Regime
	Override      *config.StopLossTable
}

// StopLoss returns the adaptive stop-loss threshold. Adjustments are applied
// in a fixed order: volatility, market regime, holding tier, clamp.
func (c *Calculator) StopLoss(in StopLossInput) (float64, Breakdown) {
	var bd Breakdown

	table := c.stopLoss.Base
	source := "default"
	if in.Override != nil {
		table = *in.Override
		source = "override"
	}

	position := in.Position
	if position < 1 {
		position = 1
	}
	base := table.Base(position)
	bd.add("base %.1f%% (position %d, %s)", base*100, position, source)

	if in.Position < 1 || in.HoldingDays < 0 || !finite(in.VolatilityPct) || in.VolatilityPct < 0 {
		bd.add("fallback to base: invalid input (position=%d holding_days=%d volatility=%v)", in.Position, in.HoldingDays, in.VolatilityPct)
		return base, bd
	}

	v := base
	switch {
	case in.VolatilityPct > c.stopLoss.HighVolatility.Above:
		v += c.stopLoss.HighVolatility.Adjust
		bd.add("high volatility %.1f%% %+.1f%%", in.VolatilityPct, c.stopLoss.HighVolatility.Adjust*100)
	case in.VolatilityPct > c.stopLoss.MediumVolatility.Above:
		v += c.stopLoss.MediumVolatility.Adjust
		bd.add("medium volatility %.1f%% %+.1f%%", in.VolatilityPct, c.stopLoss.MediumVolatility.Adjust*100)
	default:
		bd.add("low volatility %.1f%% +0.0%%", in.VolatilityPct)
	}

	if adj := regimeValue(c.stopLoss.Market, in.Regime); adj != 0 {
		v += adj
		bd.add("market %s %+.1f%%", in.Regime, adj*100)
	}

	for _, tier := range c.stopLoss.TimeTiers {
		if in.HoldingDays < tier.MinDays {
			continue
		}
		if tier.Threshold > v {
			bd.add("held %dd >= %dd tightens to %.1f%%", in.HoldingDays, tier.MinDays, tier.Threshold*100)
			v = tier.Threshold
		}
		break
	}

	lo, hi := base*c.stopLoss.ClampHigh, base*c.stopLoss.ClampLow
	if lo > hi {
		lo, hi = hi, lo
	}
	if clamped := clamp(v, lo, hi); clamped != v {
		bd.add("clamped %.2f%% into [%.1f%%, %.1f%%]", v*100, lo*100, hi*100)
		v = clamped
	}
	bd.add("final %.2f%%", v*100)
	return v, bd
}

// CooldownInput describes the most recent sell of an instrument.
type CooldownInput struct {
	Type                     config.InstrumentType
	ReturnPct                float64
	StopLoss                 bool
	VolatilityPct            float64
	Regime                   signal.Regime
	HighVolatilityMultiplier *float64
}

// Cooldown returns the adaptive re-entry cooldown after a sell.
func (c *Calculator) Cooldown(in CooldownInput) (time.Duration, Breakdown) {
	var bd Breakdown

	baseHours := c.cooldown.DefaultBaseHours
	factorType := 1.0
	switch in.Type {
	case config.Growth:
		baseHours, factorType = c.cooldown.GrowthBaseHours, 0.8
	case config.Value:
		baseHours, factorType = c.cooldown.ValueBaseHours, 1.2
	}
	bd.add("base %.1fh (%s)", baseHours, typeLabel(in.Type))

	if !finite(in.ReturnPct) || !finite(in.VolatilityPct) || in.VolatilityPct < 0 {
		bd.add("fallback to base: invalid input (return=%v volatility=%v)", in.ReturnPct, in.VolatilityPct)
		return c.clampCooldown(hours(baseHours), &bd), bd
	}

	sellFactor := sellTypeFactor(in.ReturnPct, in.StopLoss)
	bd.add("sell factor x%.1f (return %.1f%%)", sellFactor, in.ReturnPct)

	volFactor := 0.9
	switch {
	case in.VolatilityPct > c.stopLoss.HighVolatility.Above:
		volFactor = 0.7
		if in.HighVolatilityMultiplier != nil {
			volFactor = *in.HighVolatilityMultiplier
		}
	case in.VolatilityPct > c.stopLoss.MediumVolatility.Above:
		volFactor = 0.8
	}
	bd.add("volatility factor x%.1f (%.1f%%)", volFactor, in.VolatilityPct)

	marketFactor := 0.9
	switch {
	case in.Regime.IsDown():
		marketFactor = 0.6
	case in.Regime.IsUp():
		marketFactor = 1.1
	}
	bd.add("market factor x%.1f (%s)", marketFactor, in.Regime)
	bd.add("type factor x%.1f", factorType)

	h := baseHours * sellFactor * volFactor * marketFactor * factorType
	d := c.clampCooldown(hours(h), &bd)
	bd.add("final %s", d)
	return d, bd
}

func (c *Calculator) clampCooldown(d time.Duration, bd *Breakdown) time.Duration {
	lo, hi := c.cooldown.Min.D(), c.cooldown.Max.D()
	if d < lo {
		bd.add("clamped %s up to %s", d, lo)
		return lo
	}
	if d > hi {
		bd.add("clamped %s down to %s", d, hi)
		return hi
	}
	return d
}

// CooldownState is everything needed to decide whether buying is blocked.
type CooldownState struct {
	Now            time.Time
	LastSellAt     time.Time
	LastStopLossAt time.Time
	Last           CooldownInput
}

// CooldownRemaining returns how long new buys remain blocked, or zero. The
// fixed post-stop-loss cooldown is checked first, then the fixed
// post-profit-take cooldown, then the adaptive cooldown for sells inside the
// adaptive window.
func (c *Calculator) CooldownRemaining(st CooldownState) (time.Duration, Breakdown) {
	var bd Breakdown

	if !st.LastStopLossAt.IsZero() {
		if left := c.cooldown.AfterStopLoss.D() - st.Now.Sub(st.LastStopLossAt); left > 0 {
			bd.add("post stop-loss cooldown %s, %s left", c.cooldown.AfterStopLoss.D(), left.Round(time.Minute))
			return left, bd
		}
	}
	if st.LastSellAt.IsZero() {
		bd.add("no recent sell")
		return 0, bd
	}
	since := st.Now.Sub(st.LastSellAt)
	if !st.Last.StopLoss && finite(st.Last.ReturnPct) && st.Last.ReturnPct > 0 {
		if left := c.cooldown.AfterProfitTake.D() - since; left > 0 {
			bd.add("post profit-take cooldown %s, %s left", c.cooldown.AfterProfitTake.D(), left.Round(time.Minute))
			return left, bd
		}
	}
	if since > c.cooldown.AdaptiveWindow.D() {
		bd.add("last sell %s ago is outside the adaptive window", since.Round(time.Minute))
		return 0, bd
	}
	d, sub := c.Cooldown(st.Last)
	bd = append(bd, sub...)
	if left := d - since; left > 0 {
		bd.add("adaptive cooldown %s left", left.Round(time.Minute))
		return left, bd
	}
	return 0, bd
}

// RequiredPullback returns the drop from tranche k-1's entry price that
// tranche k needs before it may open, as a positive fraction.
func (c *Calculator) RequiredPullback(k int, rsi float64, regime signal.Regime, volatilityPct float64) (float64, Breakdown) {
	var bd Breakdown
	base := c.pullback.BaseFor(k)
	bd.add("base %.2f%% (tranche %d)", base*100, k)

	if k < 2 || !finite(rsi) || !finite(volatilityPct) || volatilityPct < 0 {
		bd.add("fallback to base: invalid input (tranche=%d rsi=%v volatility=%v)", k, rsi, volatilityPct)
		return base, bd
	}

	v := base
	switch {
	case rsi <= c.pullback.OversoldRSI:
		v -= c.pullback.RSIAdjust
		bd.add("oversold rsi %.1f -%.2f%%", rsi, c.pullback.RSIAdjust*100)
	case rsi >= c.pullback.OverboughtRSI:
		v += c.pullback.RSIAdjust
		bd.add("overbought rsi %.1f +%.2f%%", rsi, c.pullback.RSIAdjust*100)
	}
	switch {
	case regime.IsDown():
		v += c.pullback.DowntrendAdjust
		bd.add("market %s %+.2f%%", regime, c.pullback.DowntrendAdjust*100)
	case regime.IsUp():
		v += c.pullback.UptrendAdjust
		bd.add("market %s %+.2f%%", regime, c.pullback.UptrendAdjust*100)
	}
	if volatilityPct > c.pullback.HighVolatility {
		v += c.pullback.HighVolatilityAdjust
		bd.add("volatility %.1f%% %+.2f%%", volatilityPct, c.pullback.HighVolatilityAdjust*100)
	}

	lo, hi := base*c.pullback.ClampLow, base*c.pullback.ClampHigh
	if clamped := clamp(v, lo, hi); clamped != v {
		bd.add("clamped %.2f%% into [%.2f%%, %.2f%%]", v*100, lo*100, hi*100)
		v = clamped
	}
	bd.add("final %.2f%%", v*100)
	return v, bd
}

func sellTypeFactor(returnPct float64, stopLoss bool) float64 {
	switch {
	case stopLoss:
		return 0.6
	case returnPct >= 20:
		return 2.0
	case returnPct >= 15:
		return 1.8
	case returnPct >= 10:
		return 1.5
	case returnPct >= 5:
		return 1.2
	case returnPct >= 0:
		return 1.0
	default:
		return 0.8
	}
}

func regimeValue(t config.RegimeTable, r signal.Regime) float64 {
	switch r {
	case signal.StrongDowntrend:
		return t.StrongDowntrend
	case signal.Downtrend:
		return t.Downtrend
	case signal.Uptrend:
		return t.Uptrend
	case signal.StrongUptrend:
		return t.StrongUptrend
	case signal.Neutral:
		return t.Neutral
	}
	return 0
}

func typeLabel(t config.InstrumentType) string {
	if t == config.General {
		return "general"
	}
	return string(t)
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

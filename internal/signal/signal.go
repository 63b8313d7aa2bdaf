// Package signal defines the market inputs the engine consumes but does not
// compute: indicator values and the market-regime label per instrument.
package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Regime is the market-trend label attached to an instrument or index.
type Regime int

const (
	Neutral Regime = iota
	StrongDowntrend
	Downtrend
	Uptrend
	StrongUptrend
)

func (r Regime) String() string {
	switch r {
	case StrongDowntrend:
		return "strong_downtrend"
	case Downtrend:
		return "downtrend"
	case Neutral:
		return "neutral"
	case Uptrend:
		return "uptrend"
	case StrongUptrend:
		return "strong_uptrend"
	}
	return fmt.Sprintf("regime(%d)", int(r))
}

// IsDown reports whether r is a downtrend of either strength.
func (r Regime) IsDown() bool { return r == StrongDowntrend || r == Downtrend }

// IsUp reports whether r is an uptrend of either strength.
func (r Regime) IsUp() bool { return r == StrongUptrend || r == Uptrend }

func ParseRegime(s string) (Regime, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strong_downtrend":
		return StrongDowntrend, nil
	case "downtrend":
		return Downtrend, nil
	case "neutral", "":
		return Neutral, nil
	case "uptrend":
		return Uptrend, nil
	case "strong_uptrend":
		return StrongUptrend, nil
	}
	return Neutral, fmt.Errorf("unknown market regime %q", s)
}

func (r Regime) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Regime) UnmarshalText(b []byte) error {
	v, err := ParseRegime(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Snapshot is the analysed state of one instrument at AsOf. Percent fields are
// in percent units (5.2 means 5.2%). NaN marks a value the analytics side
// could not produce.
type Snapshot struct {
	Symbol           string    `json:"symbol"`
	AsOf             time.Time `json:"as_of"`
	Price            float64   `json:"price"`
	RSI              float64   `json:"rsi"`
	VolatilityPct    float64   `json:"volatility_pct"`
	PullbackFromHigh float64   `json:"pullback_from_high"`
	Regime           Regime    `json:"regime"`
}

// HasRSI reports whether RSI is usable.
func (s Snapshot) HasRSI() bool { return usable(s.RSI) }

// HasVolatility reports whether VolatilityPct is usable.
func (s Snapshot) HasVolatility() bool { return usable(s.VolatilityPct) && s.VolatilityPct >= 0 }

func usable(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Provider supplies snapshots for watched instruments.
type Provider interface {
	Snapshot(ctx context.Context, symbol string) (Snapshot, error)
}

// ErrNoSignal is returned when a provider has nothing for a symbol.
var ErrNoSignal = errors.New("no signal available")

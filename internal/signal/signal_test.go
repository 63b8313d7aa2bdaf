package signal

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amirphl/split-trader/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegimeText(t *testing.T) {
	for _, r := range []Regime{StrongDowntrend, Downtrend, Neutral, Uptrend, StrongUptrend} {
		b, err := r.MarshalText()
		require.NoError(t, err)
		var back Regime
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, r, back)
	}
	_, err := ParseRegime("sideways")
	assert.Error(t, err)
	assert.True(t, StrongDowntrend.IsDown())
	assert.True(t, Uptrend.IsUp())
	assert.False(t, Neutral.IsUp() || Neutral.IsDown())
}

func TestSnapshotUsability(t *testing.T) {
	s := Snapshot{RSI: math.NaN(), VolatilityPct: -1}
	assert.False(t, s.HasRSI())
	assert.False(t, s.HasVolatility())
	s = Snapshot{RSI: 40, VolatilityPct: 2.5}
	assert.True(t, s.HasRSI())
	assert.True(t, s.HasVolatility())
}

type countingProvider struct {
	calls int
	snap  Snapshot
	err   error
}

func (c *countingProvider) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	c.calls++
	return c.snap, c.err
}

func TestCachedProvider(t *testing.T) {
	clock := utils.NewManualClock(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))
	next := &countingProvider{snap: Snapshot{Symbol: "005930", RSI: 33}}
	p := NewCached(next, 5*time.Minute, 16, clock)

	for i := 0; i < 3; i++ {
		s, err := p.Snapshot(context.Background(), "005930")
		require.NoError(t, err)
		assert.Equal(t, 33.0, s.RSI)
	}
	assert.Equal(t, 1, next.calls)

	clock.Advance(5 * time.Minute)
	_, _ = p.Snapshot(context.Background(), "005930")
	assert.Equal(t, 2, next.calls)
}

func TestFileProvider(t *testing.T) {
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "signals.json")
	data, err := json.Marshal([]Snapshot{
		{Symbol: "005930", AsOf: now.Add(-time.Minute), RSI: 41, Regime: Downtrend},
		{Symbol: "000660", AsOf: now.Add(-2 * time.Hour), RSI: 55},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	p := &File{Path: path, MaxAge: time.Hour, Clock: utils.NewManualClock(now)}
	s, err := p.Snapshot(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, Downtrend, s.Regime)

	_, err = p.Snapshot(context.Background(), "000660")
	assert.True(t, errors.Is(err, ErrNoSignal))

	_, err = p.Snapshot(context.Background(), "035420")
	assert.True(t, errors.Is(err, ErrNoSignal))
}

package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/amirphl/split-trader/internal/cache"
	"github.com/amirphl/split-trader/internal/utils"
)

// Static serves snapshots set in memory, for paper trading and tests.
type Static struct {
	mu    sync.RWMutex
	items map[string]Snapshot
}

func NewStatic() *Static {
	return &Static{items: make(map[string]Snapshot)}
}

func (s *Static) Set(snap Snapshot) {
	s.mu.Lock()
	s.items[snap.Symbol] = snap
	s.mu.Unlock()
}

func (s *Static) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.items[symbol]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w for %s", ErrNoSignal, symbol)
	}
	return snap, nil
}

// File reads snapshots from a JSON document written by an external analytics
// job: an array of Snapshot objects. The file is re-read on every call.
type File struct {
	Path string
	// MaxAge rejects snapshots older than this; zero disables the check.
	MaxAge time.Duration
	Clock  utils.Clock
}

func (f *File) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read signal file: %w", err)
	}
	var snaps []Snapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return Snapshot{}, fmt.Errorf("parse signal file %s: %w", f.Path, err)
	}
	clock := f.Clock
	if clock == nil {
		clock = utils.SystemClock{}
	}
	for _, s := range snaps {
		if s.Symbol != symbol {
			continue
		}
		if f.MaxAge > 0 && clock.Now().Sub(s.AsOf) > f.MaxAge {
			return Snapshot{}, fmt.Errorf("%w for %s: snapshot from %s is stale", ErrNoSignal, symbol, s.AsOf.Format(time.RFC3339))
		}
		return s, nil
	}
	return Snapshot{}, fmt.Errorf("%w for %s", ErrNoSignal, symbol)
}

// Cached memoizes another provider per symbol for a bounded time.
type Cached struct {
	next  Provider
	cache *cache.TTL[string, Snapshot]
}

func NewCached(next Provider, ttl time.Duration, capacity int, clock utils.Clock) *Cached {
	return &Cached{
		next:  next,
		cache: cache.NewTTL[string, Snapshot](ttl, capacity, clock),
	}
}

func (c *Cached) Snapshot(ctx context.Context, symbol string) (Snapshot, error) {
	return c.cache.GetOrLoad(symbol, func() (Snapshot, error) {
		return c.next.Snapshot(ctx, symbol)
	})
}

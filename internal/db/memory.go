package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/journal"
)

type MemoryStorage struct {
	mu sync.RWMutex

	// Events (append-only)
	events []journal.Event

	// Pending orders by ID
	pending map[string]execution.PendingOrder
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		events:  make([]journal.Event, 0, 1024),
		pending: make(map[string]execution.PendingOrder),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []journal.Event
	for _, e := range m.events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		res = append(res, e)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Time.Before(res[j].Time) })
	return res, nil
}

func (m *MemoryStorage) SavePending(ctx context.Context, o execution.PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[o.ID] = o
	return nil
}

func (m *MemoryStorage) DeletePending(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *MemoryStorage) ListPending(ctx context.Context) ([]execution.PendingOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]execution.PendingOrder, 0, len(m.pending))
	for _, o := range m.pending {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Storage = (*MemoryStorage)(nil)

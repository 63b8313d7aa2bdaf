package execution

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/split-trader/internal/utils"
)

// PendingStore persists pending orders so tracking survives a restart.
type PendingStore interface {
	SavePending(ctx context.Context, o PendingOrder) error
	DeletePending(ctx context.Context, id string) error
	ListPending(ctx context.Context) ([]PendingOrder, error)
}

// Registry holds at most one outstanding order per symbol and side.
type Registry struct {
	mu     sync.Mutex
	orders map[string]PendingOrder
	store  PendingStore
	clock  utils.Clock
	guard  time.Duration
}

// NewRegistry creates a registry. store may be nil for in-memory tracking.
func NewRegistry(store PendingStore, clock utils.Clock, guard time.Duration) *Registry {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Registry{
		orders: map[string]PendingOrder{},
		store:  store,
		clock:  clock,
		guard:  guard,
	}
}

// Load replaces the in-memory orders with the persisted ones.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending orders: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = map[string]PendingOrder{}
	for _, o := range list {
		if cur, ok := r.orders[o.Key()]; ok && cur.SubmittedAt.After(o.SubmittedAt) {
			continue
		}
		r.orders[o.Key()] = o
	}
	log.Printf("Execution | Loaded %d pending orders", len(r.orders))
	return nil
}

// Guard returns ErrDuplicateOrder when an order for symbol and side was
// submitted within the guard window.
func (r *Registry) Guard(symbol string, side Side) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[symbol+"/"+side.String()]
	if !ok {
		return nil
	}
	if age := r.clock.Now().Sub(o.SubmittedAt); age < r.guard {
		return fmt.Errorf("%w: %s %s order %s submitted %s ago", ErrDuplicateOrder, symbol, side, o.ID, age.Round(time.Second))
	}
	return nil
}

// Register records o, replacing any older order in the same slot.
func (r *Registry) Register(ctx context.Context, o PendingOrder) error {
	r.mu.Lock()
	prev, had := r.orders[o.Key()]
	r.orders[o.Key()] = o
	r.mu.Unlock()

	if had && prev.ID != o.ID {
		log.Printf("Execution | [%s] Pending %s order %s superseded by %s", o.Symbol, o.Side, prev.ID, o.ID)
		if r.store != nil {
			if err := r.store.DeletePending(ctx, prev.ID); err != nil {
				log.Printf("Execution | [%s] Failed to delete superseded pending order %s: %v", o.Symbol, prev.ID, err)
			}
		}
	}
	if r.store != nil {
		if err := r.store.SavePending(ctx, o); err != nil {
			return fmt.Errorf("failed to persist pending order %s: %w", o.ID, err)
		}
	}
	return nil
}

// Update stores a changed order if it still occupies its slot.
func (r *Registry) Update(ctx context.Context, o PendingOrder) error {
	r.mu.Lock()
	cur, ok := r.orders[o.Key()]
	if !ok || cur.ID != o.ID {
		r.mu.Unlock()
		return nil
	}
	r.orders[o.Key()] = o
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SavePending(ctx, o); err != nil {
			return fmt.Errorf("failed to persist pending order %s: %w", o.ID, err)
		}
	}
	return nil
}

// Get returns the outstanding order for symbol and side.
func (r *Registry) Get(symbol string, side Side) (PendingOrder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[symbol+"/"+side.String()]
	return o, ok
}

// Has reports whether any order for symbol is outstanding.
func (r *Registry) Has(symbol string) bool {
	_, buy := r.Get(symbol, Buy)
	_, sell := r.Get(symbol, Sell)
	return buy || sell
}

// Remove drops o if it still occupies its slot.
func (r *Registry) Remove(ctx context.Context, o PendingOrder) error {
	r.mu.Lock()
	cur, ok := r.orders[o.Key()]
	if ok && cur.ID == o.ID {
		delete(r.orders, o.Key())
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeletePending(ctx, o.ID); err != nil {
			return fmt.Errorf("failed to delete pending order %s: %w", o.ID, err)
		}
	}
	return nil
}

// List returns outstanding orders, oldest first.
func (r *Registry) List() []PendingOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingOrder, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// CommittedBudget is the cash locked by outstanding buys of symbol, or of
// every symbol when symbol is empty.
func (r *Registry) CommittedBudget(symbol string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total float64
	for _, o := range r.orders {
		if o.Side != Buy || (symbol != "" && o.Symbol != symbol) {
			continue
		}
		total += o.PriceLimit * float64(o.QuantityRequested)
	}
	return total
}

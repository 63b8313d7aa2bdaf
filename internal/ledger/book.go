package ledger

import (
	"fmt"
	"log"
	"sync"
)

// Persister is the durable side of a Book.
type Persister interface {
	Save(ledgers []*InstrumentLedger) error
}

// Book is the in-memory ledger set, ordered by watch list. It remembers the
// last state that was successfully persisted so a failed save can be undone.
type Book struct {
	mu        sync.RWMutex
	tranches  int
	order     []string
	ledgers   map[string]*InstrumentLedger
	persisted []*InstrumentLedger
}

// NewBook builds a book from loaded ledgers. Symbols in watch that have no
// ledger get an empty one; loaded ledgers for other symbols are kept after
// the watched ones.
func NewBook(loaded []*InstrumentLedger, watch []string, tranches int) *Book {
	b := &Book{tranches: tranches, ledgers: map[string]*InstrumentLedger{}}
	for _, l := range loaded {
		if _, dup := b.ledgers[l.Symbol]; dup {
			log.Printf("Ledger | [%s] Duplicate ledger entry ignored", l.Symbol)
			continue
		}
		b.ledgers[l.Symbol] = l
	}
	for _, s := range watch {
		b.ensure(s, "")
		b.order = append(b.order, s)
	}
	for _, l := range loaded {
		if !b.contains(l.Symbol) {
			b.order = append(b.order, l.Symbol)
		}
	}
	b.persisted = b.snapshot()
	return b
}

func (b *Book) contains(symbol string) bool {
	for _, s := range b.order {
		if s == symbol {
			return true
		}
	}
	return false
}

func (b *Book) ensure(symbol, name string) *InstrumentLedger {
	if l, ok := b.ledgers[symbol]; ok {
		if l.Name == "" && name != "" {
			l.Name = name
		}
		return l
	}
	l := New(symbol, name, b.tranches)
	b.ledgers[symbol] = l
	log.Printf("Ledger | [%s] Created ledger with %d tranches", symbol, b.tranches)
	return l
}

// Ensure returns the ledger for symbol, creating an empty one if needed.
func (b *Book) Ensure(symbol, name string) *InstrumentLedger {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := b.ensure(symbol, name)
	if !b.contains(symbol) {
		b.order = append(b.order, symbol)
		b.persisted = append(b.persisted, l.Clone())
	}
	return l
}

// Get returns the live ledger for symbol.
func (b *Book) Get(symbol string) (*InstrumentLedger, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.ledgers[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	return l, nil
}

// Remove drops symbol from the book. It is the only way a ledger is destroyed.
func (b *Book) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ledgers, symbol)
	for i, s := range b.order {
		if s == symbol {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	kept := make([]*InstrumentLedger, 0, len(b.persisted))
	for _, l := range b.persisted {
		if l.Symbol != symbol {
			kept = append(kept, l)
		}
	}
	b.persisted = kept
}

// Symbols returns the book's symbols in order.
func (b *Book) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// Snapshot returns a deep copy of every ledger in order.
func (b *Book) Snapshot() []*InstrumentLedger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot()
}

func (b *Book) snapshot() []*InstrumentLedger {
	out := make([]*InstrumentLedger, 0, len(b.order))
	for _, s := range b.order {
		out = append(out, b.ledgers[s].Clone())
	}
	return out
}

// Restore replaces the in-memory state with a deep copy of ledgers.
func (b *Book) Restore(ledgers []*InstrumentLedger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restore(ledgers)
}

func (b *Book) restore(ledgers []*InstrumentLedger) {
	b.ledgers = map[string]*InstrumentLedger{}
	b.order = b.order[:0]
	for _, l := range ledgers {
		b.ledgers[l.Symbol] = l.Clone()
		b.order = append(b.order, l.Symbol)
	}
}

// Commit persists the book. When the save fails the book is rolled back to
// the last persisted state and the error is returned.
func (b *Book) Commit(p Persister) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.snapshot()
	for _, l := range snap {
		if err := l.Validate(); err != nil {
			log.Printf("Ledger | [%s] Refusing to persist invalid ledger, rolling back: %v", l.Symbol, err)
			b.restore(b.persisted)
			return err
		}
	}
	if err := p.Save(snap); err != nil {
		log.Printf("Ledger | Persisting ledgers failed, rolling back in-memory state: %v", err)
		b.restore(b.persisted)
		return fmt.Errorf("failed to persist ledgers: %w", err)
	}
	b.persisted = snap
	return nil
}

// Package journal defines the audit trail of the engine: every trade,
// repair, halt and failure is written as an Event.
package journal

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/split-trader/internal/utils"
)

const (
	TypeOrder     = "order"
	TypeFill      = "fill"
	TypePending   = "pending"
	TypeReconcile = "reconcile"
	TypeStopLoss  = "stop_loss"
	TypeEmergency = "emergency_stop"
	TypeError     = "error"
)

// Event represents a journaled event.
type Event struct {
	ID          string
	Time        time.Time
	Type        string // e.g., "order", "reconcile", "error", etc.
	Symbol      string
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}

// NewEvent stamps an event with a sortable id.
func NewEvent(at time.Time, typ, symbol, description string, data map[string]any) Event {
	return Event{
		ID:          utils.NewIDAt(at),
		Time:        at,
		Type:        typ,
		Symbol:      symbol,
		Description: description,
		Data:        data,
	}
}

// Record writes ev to j. A journal failure never fails the caller's action;
// it is logged instead.
func Record(ctx context.Context, j Journaler, ev Event) {
	if j == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = utils.NewIDAt(ev.Time)
	}
	if err := j.LogEvent(ctx, ev); err != nil {
		log.Printf("Journal | [%s] Failed to record %s event %q: %v", ev.Symbol, ev.Type, ev.Description, err)
	}
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/journal"
	_ "github.com/lib/pq"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func executeWithTransaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}
	return nil
}

// queryWithTransaction executes a query using transaction from context if available
func queryWithTransaction(ctx context.Context, db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return db.QueryContext(ctx, query, args...)
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) GetDB() *sql.DB {
	return p.db
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) LogEvent(ctx context.Context, event journal.Event) error {
	return executeWithTransaction(ctx, p.db, func(tx *sql.Tx) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (id, time, type, symbol, description, data)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (id) DO NOTHING`,
			event.ID, event.Time.UTC(), event.Type, event.Symbol, event.Description, data)
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

// GetEvents returns the events of eventType in [start, end], oldest first.
// An empty eventType matches every type.
func (p *Postgres) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := queryWithTransaction(ctx, p.db, `
		SELECT id, time, type, symbol, description, data
		FROM events
		WHERE ($1 = '' OR type = $1) AND time >= $2 AND time <= $3
		ORDER BY time ASC, id ASC`,
		eventType, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.Time, &e.Type, &e.Symbol, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Time = e.Time.UTC()
		if err := decodeData(data, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *Postgres) SavePending(ctx context.Context, o execution.PendingOrder) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode pending order %s: %w", o.ID, err)
	}
	return executeWithTransaction(ctx, p.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_orders (id, symbol, side, payload, updated_at)
			VALUES ($1,$2,$3,$4,NOW())
			ON CONFLICT (id) DO UPDATE SET
				symbol=EXCLUDED.symbol, side=EXCLUDED.side,
				payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`,
			o.ID, o.Symbol, o.Side.String(), payload)
		if err != nil {
			return fmt.Errorf("failed to save pending order %s: %w", o.ID, err)
		}
		return nil
	})
}

func (p *Postgres) DeletePending(ctx context.Context, id string) error {
	return executeWithTransaction(ctx, p.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_orders WHERE id=$1`, id); err != nil {
			return fmt.Errorf("failed to delete pending order %s: %w", id, err)
		}
		return nil
	})
}

func (p *Postgres) ListPending(ctx context.Context) ([]execution.PendingOrder, error) {
	rows, err := queryWithTransaction(ctx, p.db, `SELECT payload FROM pending_orders ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	defer rows.Close()
	return scanPending(rows)
}

func decodeData(data []byte, e *journal.Event) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, &e.Data); err != nil {
		return fmt.Errorf("failed to decode data of event %s: %w", e.ID, err)
	}
	return nil
}

func scanPending(rows *sql.Rows) ([]execution.PendingOrder, error) {
	var out []execution.PendingOrder
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan pending order: %w", err)
		}
		var o execution.PendingOrder
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, fmt.Errorf("failed to decode pending order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

var _ Storage = (*Postgres)(nil)

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/journal"
	_ "modernc.org/sqlite"
)

// SQLite keeps the journal and pending orders in a single local file.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// sqliteLayout is fixed width so stored times compare lexically.
const sqliteLayout = "2006-01-02T15:04:05.000000000Z07:00"

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteLayout)
}

func (s *SQLite) LogEvent(ctx context.Context, event journal.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	return executeWithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO events (id, time, type, symbol, description, data)
			VALUES (?, ?, ?, ?, ?, ?)`,
			event.ID, sqliteTime(event.Time), event.Type, event.Symbol, event.Description, string(data))
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

// GetEvents returns the events of eventType in [start, end], oldest first.
// An empty eventType matches every type.
func (s *SQLite) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := queryWithTransaction(ctx, s.db, `
		SELECT id, time, type, symbol, description, data
		FROM events
		WHERE (? = '' OR type = ?) AND time >= ? AND time <= ?
		ORDER BY time ASC, id ASC`,
		eventType, eventType, sqliteTime(start), sqliteTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var at string
		var data sql.NullString
		if err := rows.Scan(&e.ID, &at, &e.Type, &e.Symbol, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if e.Time, err = time.Parse(sqliteLayout, at); err != nil {
			return nil, fmt.Errorf("event %s has a malformed time %q: %w", e.ID, at, err)
		}
		if err := decodeData([]byte(data.String), &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLite) SavePending(ctx context.Context, o execution.PendingOrder) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode pending order %s: %w", o.ID, err)
	}
	return executeWithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_orders (id, symbol, side, payload, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				symbol=excluded.symbol, side=excluded.side,
				payload=excluded.payload, updated_at=excluded.updated_at`,
			o.ID, o.Symbol, o.Side.String(), string(payload), sqliteTime(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to save pending order %s: %w", o.ID, err)
		}
		return nil
	})
}

func (s *SQLite) DeletePending(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pending order %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) ListPending(ctx context.Context) ([]execution.PendingOrder, error) {
	rows, err := queryWithTransaction(ctx, s.db, `SELECT payload FROM pending_orders ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending orders: %w", err)
	}
	defer rows.Close()
	return scanPending(rows)
}

var _ Storage = (*SQLite)(nil)

// Package db persists the audit journal and the pending orders.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/execution"
	"github.com/amirphl/split-trader/internal/journal"
)

// Storage is the interface for all persistent storage.
type Storage interface {
	journal.Journaler
	execution.PendingStore
	Close() error
}

// Open connects the backend named by cfg.Driver and makes sure its schema
// exists.
func Open(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		log.Println("Storage | Using in-memory journal and pending store")
		return NewMemory(), nil

	case "sqlite":
		s, err := NewSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		log.Printf("Storage | Using SQLite at %s", cfg.DSN)
		return s, nil

	case "postgres":
		conn, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if cfg.MaxOpen > 0 {
			conn.SetMaxOpenConns(cfg.MaxOpen)
		}
		if cfg.MaxIdle > 0 {
			conn.SetMaxIdleConns(cfg.MaxIdle)
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to reach postgres: %w", err)
		}
		p := NewPostgres(conn)
		if err := p.Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		log.Println("Storage | Connected to Postgres")
		return p, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

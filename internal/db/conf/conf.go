// Package conf provides throwaway Postgres databases for tests.
package conf

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// Config holds test database connection and metadata
type Config struct {
	Name    string
	DB      *sql.DB
	ConnStr string
	AdminDB *sql.DB
}

// NewTestConfig creates a database with a random name and applies schema to
// it. The test is skipped when no Postgres server is reachable. Connection
// parameters come from SPLIT_TEST_PG ("host=... user=... password=...") and
// default to a local server.
func NewTestConfig(t *testing.T, schema string) (*Config, func()) {
	t.Helper()

	base := os.Getenv("SPLIT_TEST_PG")
	if base == "" {
		base = "host=localhost port=5432 user=postgres password=postgres sslmode=disable"
	}

	adminDB, err := sql.Open("postgres", base+" dbname=postgres")
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}

	// Check if PostgreSQL is running
	if err := adminDB.Ping(); err != nil {
		adminDB.Close()
		t.Skipf("Skipping test: PostgreSQL is not running or not accessible: %v", err)
		return nil, func() {}
	}

	// Generate random database name to avoid conflicts
	dbName := fmt.Sprintf("split_test_%d", rand.Int31())
	if _, err := adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbName)); err != nil {
		adminDB.Close()
		t.Fatalf("Failed to create test database: %v", err)
	}

	connStr := base + " dbname=" + dbName
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		adminDB.Close()
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if schema != "" {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			adminDB.Close()
			t.Fatalf("Failed to apply schema: %v", err)
		}
	}

	cleanup := func() {
		db.Close()
		if _, err := adminDB.Exec(fmt.Sprintf("DROP DATABASE %s WITH (FORCE)", dbName)); err != nil {
			t.Logf("Warning: Failed to drop test database %s: %v", dbName, err)
		}
		adminDB.Close()
	}

	return &Config{Name: dbName, DB: db, ConnStr: connStr, AdminDB: adminDB}, cleanup
}

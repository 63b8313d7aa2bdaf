package db

// PostgresSchema creates the journal and pending-order tables.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	time        TIMESTAMPTZ NOT NULL,
	type        TEXT NOT NULL,
	symbol      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	data        JSONB
);
CREATE INDEX IF NOT EXISTS events_type_time_idx ON events (type, time);

CREATE TABLE IF NOT EXISTS pending_orders (
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// SQLiteSchema is PostgresSchema in SQLite types. Times are stored as
// RFC 3339 text in UTC so they sort lexically.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	time        TEXT NOT NULL,
	type        TEXT NOT NULL,
	symbol      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	data        TEXT
);
CREATE INDEX IF NOT EXISTS events_type_time_idx ON events (type, time);

CREATE TABLE IF NOT EXISTS pending_orders (
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

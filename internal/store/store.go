// Package store is the client's durable state: identity, broker
// endpoint, sensors and their readings, topics with per-topic publish
// flags and sensor membership, and subscriptions with received data.
// Everything lives in a single SQLite database so the client survives
// restarts without talking to the broker.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by lookups for sensors, topics, or
// subscriptions that do not exist.
var ErrNotFound = errors.New("store: not found")

// Sensor is a named data source attached to the local device. Rows are
// created lazily by the first reading that mentions the name.
type Sensor struct {
	ID          int64
	Name        string
	LastValue   string
	LastUpdated int64
}

// Reading is one timestamped sensor sample.
type Reading struct {
	Timestamp int64
	Value     string
	Units     string
}

// Topic is a locally owned topic. Publish gates whether the
// orchestrator pushes matching readings to the broker.
type Topic struct {
	ID      int64
	Name    string
	Publish bool
}

// Subscription records interest in a topic published by another
// client. Inactive rows are kept for history.
type Subscription struct {
	ID           int64
	Topic        string
	SourceClient string
}

// SubscriptionDatum is one payload received on a subscription.
type SubscriptionDatum struct {
	Timestamp int64
	Data      string
}

// Store wraps the SQLite database. All operations are safe for
// concurrent use; each call is a single short transaction.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and runs
// migrations. WAL mode keeps the reader goroutines from blocking the
// writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database handle and runs migrations.
// Callers that need a different driver (or :memory: databases in
// tests) open the handle themselves.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE TABLE IF NOT EXISTS sensors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE,
		last_value TEXT,
		last_updated INTEGER
	);

	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id INTEGER,
		timestamp INTEGER,
		value TEXT,
		units TEXT,
		FOREIGN KEY(sensor_id) REFERENCES sensors(id)
	);
	CREATE INDEX IF NOT EXISTS idx_readings_sensor ON readings(sensor_id, timestamp);

	CREATE TABLE IF NOT EXISTS topics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE,
		publish BOOLEAN DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS topic_sensors (
		topic_id INTEGER,
		sensor_id INTEGER,
		PRIMARY KEY (topic_id, sensor_id),
		FOREIGN KEY(topic_id) REFERENCES topics(id),
		FOREIGN KEY(sensor_id) REFERENCES sensors(id)
	);

	-- The unique pair makes re-subscribing an upsert instead of a
	-- duplicate row; history rows survive with active = 0.
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT,
		source_client_id TEXT,
		active BOOLEAN DEFAULT 1,
		UNIQUE(topic, source_client_id)
	);

	CREATE TABLE IF NOT EXISTS subscription_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id INTEGER,
		timestamp INTEGER,
		data TEXT,
		FOREIGN KEY(subscription_id) REFERENCES subscriptions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_subscription_data_sub ON subscription_data(subscription_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

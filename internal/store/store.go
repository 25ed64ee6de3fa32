// Package store provides SQLite-backed persistence for the hub's records.
// Sessions, input requests, inbox messages, and idempotency claims are all
// stored as versioned JSON records keyed by (kind, id), retrievable in
// creation order.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record kinds persisted by the hub.
const (
	KindSession = "session"
	KindRequest = "input_request"
	KindMessage = "inbox_message"
	KindClaim   = "idempotency_claim"
)

// Sentinel errors shared by every layer above the store. Callers test with
// errors.Is; the HTTP transport maps them to status codes.
var (
	// ErrNotFound indicates a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates an optimistic-concurrency version mismatch or
	// an idempotency key reused for a different logical operation.
	ErrConflict = errors.New("conflict")
)

// Record is a stored row: a JSON document plus its optimistic-concurrency
// version and creation timestamp.
type Record struct {
	Kind      string
	ID        string
	Version   int64
	Data      []byte
	CreatedAt time.Time
}

// Decode unmarshals the record's JSON document into out.
func (r Record) Decode(out any) error {
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.Kind, r.ID, err)
	}
	return nil
}

// Store provides atomic single-record operations over a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at dbPath and creates tables if they don't
// exist. Pass ":memory:" for an ephemeral store.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps per-record operations serialized and avoids
	// SQLITE_BUSY under concurrent pollers and responders.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		data TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE(kind, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_kind_seq ON records(kind, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// Put creates or replaces the record identified by (kind, id), marshalling v
// as its document. Replacing bumps the version; the creation timestamp and
// sequence position of an existing record are preserved.
func (s *Store) Put(kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO records (kind, id, version, data, created_at)
		 VALUES (?, ?, 1, ?, ?)
		 ON CONFLICT(kind, id) DO UPDATE SET
		 	data = excluded.data,
		 	version = records.version + 1`,
		kind, id, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", kind, id, err)
	}
	return nil
}

// Get retrieves the record identified by (kind, id). Returns ErrNotFound if
// absent.
func (s *Store) Get(kind, id string) (Record, error) {
	row := s.db.QueryRow(
		`SELECT version, data, created_at FROM records WHERE kind = ? AND id = ?`,
		kind, id,
	)

	rec := Record{Kind: kind, ID: id}
	var data string
	err := row.Scan(&rec.Version, &data, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return Record{}, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan %s %s: %w", kind, id, err)
	}
	rec.Data = []byte(data)

	return rec, nil
}

// List returns all records of the given kind in creation order.
func (s *Store) List(kind string) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT id, version, data, created_at FROM records WHERE kind = ? ORDER BY seq ASC`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		rec := Record{Kind: kind}
		var data string
		if err := rows.Scan(&rec.ID, &rec.Version, &data, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", kind, err)
		}
		rec.Data = []byte(data)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", kind, err)
	}

	return records, nil
}

// CompareAndUpdate replaces the document of (kind, id) with v only if the
// stored version still equals expectedVersion. Returns ErrConflict on a
// version mismatch and ErrNotFound if the record does not exist. This is the
// optimistic-concurrency primitive guarding state transitions.
func (s *Store) CompareAndUpdate(kind, id string, expectedVersion int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}

	res, err := s.db.Exec(
		`UPDATE records SET data = ?, version = version + 1
		 WHERE kind = ? AND id = ? AND version = ?`,
		string(data), kind, id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %s: %w", kind, id, err)
	}
	if n == 1 {
		return nil
	}

	// Zero rows: distinguish a missing record from a stale version.
	if _, err := s.Get(kind, id); err != nil {
		return err
	}
	return fmt.Errorf("%s %s version %d: %w", kind, id, expectedVersion, ErrConflict)
}

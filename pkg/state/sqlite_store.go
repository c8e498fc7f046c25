package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS execution_state (
	pipeline   TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	status     TEXT NOT NULL,
	snapshot   TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

const sqliteUpsert = `INSERT INTO execution_state(pipeline, run_id, status, snapshot, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(pipeline) DO UPDATE SET
	run_id = excluded.run_id,
	status = excluded.status,
	snapshot = excluded.snapshot,
	updated_at = excluded.updated_at`

// SQLiteStore keeps the latest snapshot of each pipeline in one SQLite table
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// SQLite allows only one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create execution_state table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save upserts the snapshot as the latest record for its pipeline
func (s *SQLiteStore) Save(snapshot ExecutionState) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	_, err = s.db.Exec(sqliteUpsert,
		snapshot.PipelineName,
		snapshot.RunID,
		string(snapshot.Status),
		string(data),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", snapshot.PipelineName, err)
	}
	return nil
}

// Load returns the latest snapshot, or an error wrapping os.ErrNotExist
func (s *SQLiteStore) Load(pipeline string) (*ExecutionState, error) {
	var data string
	err := s.db.QueryRow(`SELECT snapshot FROM execution_state WHERE pipeline = ?`, pipeline).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no state for pipeline %s: %w", pipeline, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state for %s: %w", pipeline, err)
	}

	var snapshot ExecutionState
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse stored state: %w", err)
	}
	return &snapshot, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// MultiSaver fans a snapshot out to several stores
type MultiSaver []Saver

// Save writes to every store, joining the errors
func (m MultiSaver) Save(snapshot ExecutionState) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

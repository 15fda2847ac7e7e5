// Package store persists survey records in SQLite and tracks their upload markers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrTargetNotApplicable is returned when marking a record type for a target
	// that keeps no marker for it (Wi-Fi for OpenCelliD).
	ErrTargetNotApplicable = errors.New("upload target not applicable to record type")
	// ErrNotStored is returned for record types that have no table (CDMA).
	ErrNotStored = errors.New("record type is not stored for upload")

	errNotInitialized = errors.New("store not initialized")
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures every record table exists.
func (s *Store) InitSchema(ctx context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ingestion_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT,
			payload TEXT,
			error TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS upload_runs (
			run_id TEXT PRIMARY KEY,
			outcome TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			records_uploaded INTEGER NOT NULL,
			records_deleted INTEGER NOT NULL,
			results TEXT NOT NULL
		);`,
	}
	for _, t := range tables {
		stmts = append(stmts, t.createStatement())
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s(%s);`, t.name, t.name, t.pendingIndexColumns()))
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Transaction runs fn inside a single transaction, rolling back on error or panic.
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if s.db == nil {
		return errNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// InsertIngestionError records a payload that failed decoding or persistence.
func (s *Store) InsertIngestionError(ctx context.Context, source, payload string, cause error) error {
	if s.db == nil {
		return errNotInitialized
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO ingestion_errors (source, payload, error) VALUES (?, ?, ?);`,
		source,
		payload,
		cause.Error(),
	)
	if err != nil {
		return fmt.Errorf("insert ingestion error: %w", err)
	}
	return nil
}

// WipeRecords removes every survey record and ingestion error while keeping run history.
func (s *Store) WipeRecords(ctx context.Context) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		stmts := []string{`DELETE FROM ingestion_errors;`}
		for _, t := range tables {
			stmts = append(stmts, fmt.Sprintf(`DELETE FROM %s;`, t.name))
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("wipe records: %w", err)
			}
		}
		return nil
	})
}

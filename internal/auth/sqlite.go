package auth

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore is an AttemptStore backed by SQLite, for deployments where
// lockout state must survive a restart. Each mutation runs in one
// transaction, which serializes concurrent updates to the same identity.
//
// Storage errors are logged and surface as "no record": the guard then
// fails open on reads and loses at most one increment on writes, which is
// preferable to turning a broken attempts database into a total login outage.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time // for testing
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS login_attempts (
		identity TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		last_attempt_at TIMESTAMP NOT NULL,
		locked_until TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// Get returns the record for identity, evicting it first if its lockout
// deadline has passed.
func (s *SQLiteStore) Get(identity string) (*AttemptRecord, bool) {
	rec, ok := s.load(identity)
	if !ok {
		return nil, false
	}
	if !rec.LockedUntil.IsZero() && !s.now().Before(rec.LockedUntil) {
		s.Clear(identity)
		return nil, false
	}
	return rec, true
}

// UpsertFailure records one failure for identity inside a transaction and
// returns the updated record.
func (s *SQLiteStore) UpsertFailure(identity string) *AttemptRecord {
	now := s.now()
	rec := &AttemptRecord{Count: 1, LastAttemptAt: now}

	tx, err := s.db.Begin()
	if err != nil {
		s.logger.Error("attempt store: begin failed", zap.Error(err))
		return rec
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	var lockedUntil sql.NullTime
	err = tx.QueryRow(
		`SELECT count, locked_until FROM login_attempts WHERE identity = ?`, identity,
	).Scan(&count, &lockedUntil)
	switch {
	case err == sql.ErrNoRows:
		// first failure for this identity
	case err != nil:
		s.logger.Error("attempt store: read failed", zap.Error(err))
		return rec
	default:
		if !lockedUntil.Valid || now.Before(lockedUntil.Time) {
			rec.Count = count + 1
			if lockedUntil.Valid {
				rec.LockedUntil = lockedUntil.Time
			}
		}
		// an expired lockout restarts the count at 1
	}

	if rec.Count >= MaxAttempts && rec.LockedUntil.IsZero() {
		rec.LockedUntil = now.Add(LockoutDuration)
	}

	var until interface{}
	if !rec.LockedUntil.IsZero() {
		until = rec.LockedUntil
	}
	_, err = tx.Exec(
		`INSERT OR REPLACE INTO login_attempts (identity, count, last_attempt_at, locked_until)
		 VALUES (?, ?, ?, ?)`,
		identity, rec.Count, rec.LastAttemptAt, until,
	)
	if err != nil {
		s.logger.Error("attempt store: write failed", zap.Error(err))
		return rec
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("attempt store: commit failed", zap.Error(err))
	}
	return rec
}

// Clear removes all state for identity.
func (s *SQLiteStore) Clear(identity string) {
	if _, err := s.db.Exec(`DELETE FROM login_attempts WHERE identity = ?`, identity); err != nil {
		s.logger.Error("attempt store: delete failed", zap.Error(err))
	}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) load(identity string) (*AttemptRecord, bool) {
	var rec AttemptRecord
	var lockedUntil sql.NullTime
	err := s.db.QueryRow(
		`SELECT count, last_attempt_at, locked_until FROM login_attempts WHERE identity = ?`,
		identity,
	).Scan(&rec.Count, &rec.LastAttemptAt, &lockedUntil)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		s.logger.Error("attempt store: read failed", zap.Error(err))
		return nil, false
	}
	if lockedUntil.Valid {
		rec.LockedUntil = lockedUntil.Time
	}
	return &rec, true
}

// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session record persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_records (
			id            TEXT NOT NULL,
			identity      TEXT NOT NULL,
			workspace     TEXT NOT NULL,
			status        TEXT NOT NULL,
			model         TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL,
			last_activity DATETIME NOT NULL,
			PRIMARY KEY (identity, id),

			CHECK (status IN ('running', 'idle', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_session_records_identity
			ON session_records(identity);

		CREATE INDEX IF NOT EXISTS idx_session_records_status
			ON session_records(identity, status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSessionRecord inserts a new session record.
// Returns ErrDuplicateSession if a record with the same (identity, id) exists.
func (s *SQLiteStore) CreateSessionRecord(ctx context.Context, rec *SessionRecord) error {
	query := `
		INSERT INTO session_records (id, identity, workspace, status, model, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Identity,
		rec.Workspace,
		rec.Status,
		rec.Model,
		rec.CreatedAt.UTC(),
		rec.LastActivity.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session record: %w", err)
	}

	s.logger.Debug("session record created",
		"session_id", rec.ID,
		"identity", rec.Identity,
		"workspace", rec.Workspace,
	)
	return nil
}

// UpdateSessionRecord updates the status and last-activity timestamp of a record.
// Returns ErrNotFound if no record matches (identity, sessionID).
func (s *SQLiteStore) UpdateSessionRecord(ctx context.Context, identity, sessionID, status string, lastActivity time.Time) error {
	query := `
		UPDATE session_records
		SET status = ?, last_activity = ?
		WHERE identity = ? AND id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, lastActivity.UTC(), identity, sessionID)
	if err != nil {
		return fmt.Errorf("updating session record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSessionRecord removes a session record. Deleting an absent record is
// not an error; closeSession is idempotent and so is its persistence.
func (s *SQLiteStore) DeleteSessionRecord(ctx context.Context, identity, sessionID string) error {
	query := `DELETE FROM session_records WHERE identity = ? AND id = ?`

	if _, err := s.db.ExecContext(ctx, query, identity, sessionID); err != nil {
		return fmt.Errorf("deleting session record: %w", err)
	}
	return nil
}

// GetSessionRecord retrieves a single session record.
func (s *SQLiteStore) GetSessionRecord(ctx context.Context, identity, sessionID string) (*SessionRecord, error) {
	query := `
		SELECT id, identity, workspace, status, model, created_at, last_activity
		FROM session_records
		WHERE identity = ? AND id = ?
	`

	row := s.db.QueryRowContext(ctx, query, identity, sessionID)
	rec, err := scanSessionRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session record: %w", err)
	}
	return rec, nil
}

// ListSessionRecords returns all session records for an identity, newest first.
func (s *SQLiteStore) ListSessionRecords(ctx context.Context, identity string) ([]*SessionRecord, error) {
	query := `
		SELECT id, identity, workspace, status, model, created_at, last_activity
		FROM session_records
		WHERE identity = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, fmt.Errorf("querying session records: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Identity, &rec.Workspace, &rec.Status, &rec.Model, &rec.CreatedAt, &rec.LastActivity); err != nil {
			return nil, fmt.Errorf("scanning session record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session records: %w", err)
	}
	return records, nil
}

// rowScanner abstracts sql.Row for scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRecord(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	if err := row.Scan(&rec.ID, &rec.Identity, &rec.Workspace, &rec.Status, &rec.Model, &rec.CreatedAt, &rec.LastActivity); err != nil {
		return nil, err
	}
	return &rec, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
// modernc.org/sqlite reports constraint failures in the error string.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

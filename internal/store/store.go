// ABOUTME: Store interface and data types for perch-gateway persistence
// ABOUTME: Defines SessionRecord and the RecordStore interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when trying to create a session record that already exists
var ErrDuplicateSession = errors.New("session record already exists")

// SessionStatus values persisted on a session record.
const (
	StatusRunning = "running"
	StatusIdle    = "idle"
	StatusError   = "error"
)

// SessionRecord is the durable rendering of an active session's public facts.
// The orchestrator writes these on create and on terminal transitions and
// deletes them on explicit close; it never reads them back. External
// consumers (listing, auditing) read them through the admin surface.
type SessionRecord struct {
	ID           string
	Identity     string
	Workspace    string
	Status       string // "running", "idle", "error"
	Model        string
	CreatedAt    time.Time
	LastActivity time.Time
}

// RecordStore defines the persistence contract consumed by the session
// orchestrator. Implementations must make each write atomic so a crash
// mid-write never yields a torn record.
type RecordStore interface {
	CreateSessionRecord(ctx context.Context, rec *SessionRecord) error
	UpdateSessionRecord(ctx context.Context, identity, sessionID, status string, lastActivity time.Time) error
	DeleteSessionRecord(ctx context.Context, identity, sessionID string) error
}

// Store is the full persistence interface, including the read side used by
// the admin/listing surface.
type Store interface {
	RecordStore

	GetSessionRecord(ctx context.Context, identity, sessionID string) (*SessionRecord, error)
	ListSessionRecords(ctx context.Context, identity string) ([]*SessionRecord, error)

	Close() error
}

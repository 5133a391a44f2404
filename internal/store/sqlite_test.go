// ABOUTME: Tests for the SQLite session record store
// ABOUTME: Covers CRUD operations, duplicate detection, and identity scoping

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(id, identity string) *SessionRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &SessionRecord{
		ID:           id,
		Identity:     identity,
		Workspace:    "proj",
		Status:       StatusRunning,
		Model:        "large",
		CreatedAt:    now,
		LastActivity: now,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetSessionRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("session-1", "alice")
	if err := store.CreateSessionRecord(ctx, rec); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}

	got, err := store.GetSessionRecord(ctx, "alice", "session-1")
	if err != nil {
		t.Fatalf("GetSessionRecord failed: %v", err)
	}

	if got.ID != rec.ID {
		t.Errorf("ID = %q, want %q", got.ID, rec.ID)
	}
	if got.Identity != rec.Identity {
		t.Errorf("Identity = %q, want %q", got.Identity, rec.Identity)
	}
	if got.Workspace != rec.Workspace {
		t.Errorf("Workspace = %q, want %q", got.Workspace, rec.Workspace)
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, StatusRunning)
	}
	if got.Model != rec.Model {
		t.Errorf("Model = %q, want %q", got.Model, rec.Model)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestCreateSessionRecord_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("session-1", "alice")
	if err := store.CreateSessionRecord(ctx, rec); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}

	err := store.CreateSessionRecord(ctx, rec)
	if !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("duplicate create error = %v, want ErrDuplicateSession", err)
	}
}

func TestCreateSessionRecord_SameIDDifferentIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Records are keyed by (identity, id); the same id under another
	// identity is a distinct record.
	if err := store.CreateSessionRecord(ctx, testRecord("session-1", "alice")); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}
	if err := store.CreateSessionRecord(ctx, testRecord("session-1", "bob")); err != nil {
		t.Errorf("CreateSessionRecord for other identity failed: %v", err)
	}
}

func TestGetSessionRecord_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSessionRecord(context.Background(), "alice", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSessionRecord error = %v, want ErrNotFound", err)
	}
}

func TestGetSessionRecord_WrongIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSessionRecord(ctx, testRecord("session-1", "alice")); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}

	_, err := store.GetSessionRecord(ctx, "bob", "session-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-identity get error = %v, want ErrNotFound", err)
	}
}

func TestUpdateSessionRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSessionRecord(ctx, testRecord("session-1", "alice")); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}

	later := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	if err := store.UpdateSessionRecord(ctx, "alice", "session-1", StatusIdle, later); err != nil {
		t.Fatalf("UpdateSessionRecord failed: %v", err)
	}

	got, err := store.GetSessionRecord(ctx, "alice", "session-1")
	if err != nil {
		t.Fatalf("GetSessionRecord failed: %v", err)
	}
	if got.Status != StatusIdle {
		t.Errorf("Status = %q, want %q", got.Status, StatusIdle)
	}
	if !got.LastActivity.Equal(later) {
		t.Errorf("LastActivity = %v, want %v", got.LastActivity, later)
	}
}

func TestUpdateSessionRecord_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateSessionRecord(context.Background(), "alice", "missing", StatusIdle, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSessionRecord error = %v, want ErrNotFound", err)
	}
}

func TestDeleteSessionRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSessionRecord(ctx, testRecord("session-1", "alice")); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}

	if err := store.DeleteSessionRecord(ctx, "alice", "session-1"); err != nil {
		t.Fatalf("DeleteSessionRecord failed: %v", err)
	}

	if _, err := store.GetSessionRecord(ctx, "alice", "session-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record still present after delete: %v", err)
	}
}

func TestDeleteSessionRecord_AbsentIsNoop(t *testing.T) {
	store := newTestStore(t)

	if err := store.DeleteSessionRecord(context.Background(), "alice", "missing"); err != nil {
		t.Errorf("deleting absent record should be a no-op, got %v", err)
	}
}

func TestListSessionRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"session-a", "session-b", "session-c"} {
		rec := testRecord(id, "alice")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateSessionRecord(ctx, rec); err != nil {
			t.Fatalf("CreateSessionRecord failed: %v", err)
		}
	}
	if err := store.CreateSessionRecord(ctx, testRecord("session-x", "bob")); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}

	records, err := store.ListSessionRecords(ctx, "alice")
	if err != nil {
		t.Fatalf("ListSessionRecords failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	// Newest first
	wantOrder := []string{"session-c", "session-b", "session-a"}
	for i, want := range wantOrder {
		if records[i].ID != want {
			t.Errorf("records[%d].ID = %q, want %q", i, records[i].ID, want)
		}
	}
}

func TestListSessionRecords_Empty(t *testing.T) {
	store := newTestStore(t)

	records, err := store.ListSessionRecords(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ListSessionRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}
}

func TestCreateSessionRecord_RejectsUnknownStatus(t *testing.T) {
	store := newTestStore(t)

	rec := testRecord("session-1", "alice")
	rec.Status = "paused"

	if err := store.CreateSessionRecord(context.Background(), rec); err == nil {
		t.Error("expected status CHECK constraint to reject unknown status")
	}
}

// Package store provides persistence for session records.
//
// # Overview
//
// The store package defines the RecordStore and Store interfaces and a SQLite
// implementation backed by modernc.org/sqlite (pure Go, no cgo).
//
// # Session Records
//
// A SessionRecord is the durable view of a session: id, owning identity,
// workspace, status, model, and timestamps. Records are keyed by
// (identity, id) so listings never cross identity boundaries.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/path/to/gateway.db")
//	err = s.CreateSessionRecord(ctx, rec)
//	err = s.UpdateSessionRecord(ctx, identity, id, store.StatusIdle, time.Now())
//
// NewSQLiteStore creates the schema automatically and enables WAL mode.
// CreateSessionRecord returns ErrDuplicateSession on id collision;
// DeleteSessionRecord on an absent record is a no-op.
package store

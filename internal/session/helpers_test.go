// ABOUTME: Shared helpers for session package tests.
// ABOUTME: Provides a discard logger so test output stays clean.

package session

import (
	"io"
	"log/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

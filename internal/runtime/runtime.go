// ABOUTME: Agent runtime contract consumed by the session orchestrator
// ABOUTME: A runtime pulls turn inputs lazily and emits an output stream that ends or errors

package runtime

import (
	"context"
	"encoding/json"
)

// TurnInput is one unit of agent input: a prompt or follow-up message
// scoped to a session.
type TurnInput struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// InputSource is the pull side of the prompt bridge. Next blocks until an
// input is available or the sequence ends; ok is false at end-of-sequence.
type InputSource interface {
	Next(ctx context.Context) (input TurnInput, ok bool)
}

// Output is one element of a runtime's output stream. Exactly one of Event
// and Err is set. An Output with Err != nil is terminal; the channel is
// closed afterward. A channel that closes without an Err ended normally.
type Output struct {
	Event json.RawMessage
	Err   error
}

// RunConfig carries per-session parameters into a runtime invocation.
type RunConfig struct {
	SessionID    string
	WorkspaceDir string
	Model        string
	Effort       string
}

// Runtime hosts one agent interaction. Run must honor ctx cancellation by
// terminating the returned stream within a bounded time; the orchestrator
// never forcibly reaps a runtime beyond canceling the context.
type Runtime interface {
	Run(ctx context.Context, cfg RunConfig, inputs InputSource) (<-chan Output, error)
}

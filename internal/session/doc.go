// Package session implements agent session orchestration.
//
// # Overview
//
// The session package owns the lifecycle of agent sessions: bounded
// per-identity creation, prompt delivery, event streaming to WebSocket
// subscribers, interruption, and teardown. Each session wraps one runtime
// process working in one workspace directory.
//
// # Orchestrator
//
// The Orchestrator is the main entry point:
//
//	orch := session.NewOrchestrator(store, runtime, workspaces, 5, "default-model", logger)
//	id, err := orch.CreateSession(ctx, &session.CreateRequest{
//	    Identity:  "alice",
//	    Workspace: "myproject",
//	    Prompt:    "fix the failing test",
//	})
//
// Creation validates the workspace, enforces the per-identity running-session
// cap (ErrSessionLimit), persists a session record, and starts a driver
// goroutine that pumps runtime output to subscribers.
//
// # Status
//
// Sessions move through three statuses:
//
//   - running: the runtime process is live
//   - idle: the runtime finished its stream normally
//   - error: the runtime stream ended with an error
//
// Idle and errored sessions stay addressable until CloseSession removes them.
// SendMessage on an idle session queues the prompt for the next runtime pull.
//
// # Streaming
//
// Subscribers attach with AddStreamClient and receive JSON frames:
//
//	{"type": "event", "sessionId": "...", "event": {...}}
//	{"type": "idle",  "sessionId": "..."}
//	{"type": "done",  "sessionId": "..."}
//	{"type": "error", "sessionId": "...", "error": "..."}
//
// The idle frame fires when the runtime comes back for more input after its
// first turn; done and error are terminal for the stream.
//
// # Prompt Bridge
//
// Bridge is the FIFO handoff between SendMessage callers and the runtime's
// input loop. A waiting runtime pull resumes immediately when a prompt
// arrives; otherwise prompts buffer in order. Close lets the runtime drain
// buffered prompts before observing end of input.
//
// # Key Files
//
//   - orchestrator.go: Orchestrator, Session, driver loop, stream fanout
//   - bridge.go: prompt FIFO with suspend/resume semantics
package session

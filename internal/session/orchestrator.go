// ABOUTME: Session orchestrator managing bounded concurrent agent sessions per identity
// ABOUTME: Owns the session table, driver loops, subscriber fan-out, and record persistence

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/2389/perch-gateway/internal/runtime"
	"github.com/2389/perch-gateway/internal/store"
)

// Orchestrator errors
var (
	// ErrSessionNotFound indicates the specified session is not in the live table.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWorkspaceNotFound indicates the requested workspace does not exist.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrSessionLimit indicates the identity is at its running-session cap.
	ErrSessionLimit = errors.New("session limit reached")
)

// persistTimeout bounds record writes issued outside a request context.
const persistTimeout = 5 * time.Second

// StatusSessionNotFound is the close code for stream connections whose
// session id does not resolve to a live session.
const StatusSessionNotFound websocket.StatusCode = 4004

// StreamConn is what the orchestrator needs from a subscriber connection.
// Sends are best-effort; a failed write is swallowed and the connection's
// own close event drives cleanup.
type StreamConn interface {
	Send(data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// WorkspaceChecker resolves workspace names for session creation.
type WorkspaceChecker interface {
	Exists(name string) bool
	Path(name string) (string, error)
}

// Session is one live agent interaction: an identity, a workspace, an input
// bridge, and the subscribers watching its output.
type Session struct {
	ID        string
	Identity  string
	Workspace string
	Model     string
	Effort    string
	CreatedAt time.Time

	cancel      context.CancelFunc
	bridge      *Bridge
	subscribers map[StreamConn]struct{}

	// status and lastActivity are guarded by the orchestrator mutex.
	status       string
	lastActivity time.Time
}

// Info is the read-only view of a session returned to the listing surface.
type Info struct {
	ID           string    `json:"id"`
	Workspace    string    `json:"workspace"`
	Status       string    `json:"status"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Orchestrator creates, tracks, and tears down agent sessions. It is
// identity-agnostic once a session exists; callers enforce ownership with
// IsUserSession before invoking mutating operations.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store      store.RecordStore
	runtime    runtime.Runtime
	workspaces WorkspaceChecker

	maxRunning   int
	defaultModel string
	logger       *slog.Logger
}

// NewOrchestrator creates an Orchestrator with the given collaborators.
// maxRunning caps concurrent running sessions per identity.
func NewOrchestrator(recordStore store.RecordStore, rt runtime.Runtime, workspaces WorkspaceChecker, maxRunning int, defaultModel string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessions:     make(map[string]*Session),
		store:        recordStore,
		runtime:      rt,
		workspaces:   workspaces,
		maxRunning:   maxRunning,
		defaultModel: defaultModel,
		logger:       logger.With("component", "orchestrator"),
	}
}

// CreateRequest carries the parameters for CreateSession.
type CreateRequest struct {
	Identity  string
	Workspace string
	Prompt    string
	Model     string
	Effort    string
}

// CreateSession starts a new agent session and returns its id.
// Fails with ErrWorkspaceNotFound if the workspace does not exist and with
// ErrSessionLimit if the identity already has maxRunning running sessions.
// Session ids are UUIDs, so a closed session's id is never reused.
func (o *Orchestrator) CreateSession(ctx context.Context, req *CreateRequest) (string, error) {
	if !o.workspaces.Exists(req.Workspace) {
		return "", fmt.Errorf("%w: %q", ErrWorkspaceNotFound, req.Workspace)
	}

	workspaceDir, err := o.workspaces.Path(req.Workspace)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrWorkspaceNotFound, req.Workspace)
	}

	model := req.Model
	if model == "" {
		model = o.defaultModel
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	// Sessions outlive the create request; the driver loop is canceled by
	// Interrupt/Close, not by the caller's context.
	sctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:           id,
		Identity:     req.Identity,
		Workspace:    req.Workspace,
		Model:        model,
		Effort:       req.Effort,
		CreatedAt:    now,
		cancel:       cancel,
		subscribers:  make(map[StreamConn]struct{}),
		status:       store.StatusRunning,
		lastActivity: now,
	}
	s.bridge = NewBridge(func() { o.notifyIdle(id) })
	s.bridge.Push(runtime.TurnInput{Role: "user", Content: req.Prompt, SessionID: id})

	o.mu.Lock()
	if o.runningCountLocked(req.Identity) >= o.maxRunning {
		o.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: %d running for %s", ErrSessionLimit, o.maxRunning, req.Identity)
	}
	o.sessions[id] = s
	o.mu.Unlock()

	rec := &store.SessionRecord{
		ID:           id,
		Identity:     req.Identity,
		Workspace:    req.Workspace,
		Status:       store.StatusRunning,
		Model:        model,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := o.store.CreateSessionRecord(ctx, rec); err != nil {
		o.removeSession(s)
		cancel()
		return "", fmt.Errorf("persisting session record: %w", err)
	}

	outputs, err := o.runtime.Run(sctx, runtime.RunConfig{
		SessionID:    id,
		WorkspaceDir: workspaceDir,
		Model:        model,
		Effort:       req.Effort,
	}, s.bridge)
	if err != nil {
		o.removeSession(s)
		cancel()
		o.deleteRecord(s)
		return "", fmt.Errorf("starting runtime: %w", err)
	}

	go o.drive(s, outputs)

	o.logger.Info("session created",
		"session_id", id,
		"identity", req.Identity,
		"workspace", req.Workspace,
		"model", model,
	)
	return id, nil
}

// runningCountLocked counts sessions with status running for an identity.
// Caller holds o.mu.
func (o *Orchestrator) runningCountLocked(identity string) int {
	count := 0
	for _, s := range o.sessions {
		if s.Identity == identity && s.status == store.StatusRunning {
			count++
		}
	}
	return count
}

// SendMessage enqueues a follow-up turn on the session's bridge.
// Delivery to the runtime is FIFO per session.
func (o *Orchestrator) SendMessage(sessionID, text string) error {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return ErrSessionNotFound
	}
	s.lastActivity = time.Now().UTC()
	bridge := s.bridge
	o.mu.Unlock()

	bridge.Push(runtime.TurnInput{Role: "user", Content: text, SessionID: sessionID})
	return nil
}

// InterruptSession signals the session's cancellation context. Teardown is
// observed asynchronously when the runtime's output stream ends; the session
// stays in the live table.
func (o *Orchestrator) InterruptSession(sessionID string) error {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	o.logger.Info("session interrupted", "session_id", sessionID)
	s.cancel()
	return nil
}

// CloseSession tears a session down: cancel, end the input bridge, force-close
// every subscriber, remove it from the live table, and delete its record.
// Closing an absent session is a no-op.
func (o *Orchestrator) CloseSession(sessionID string) error {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	delete(o.sessions, sessionID)
	subs := make([]StreamConn, 0, len(s.subscribers))
	for conn := range s.subscribers {
		subs = append(subs, conn)
	}
	s.subscribers = make(map[StreamConn]struct{})
	o.mu.Unlock()

	s.cancel()

	// A runtime that ignores cancellation still cannot pull further input.
	s.bridge.Close()

	for _, conn := range subs {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}

	o.deleteRecord(s)

	o.logger.Info("session closed", "session_id", sessionID, "identity", s.Identity)
	return nil
}

// AddStreamClient registers a subscriber connection on a session.
// Returns false if the session is unknown; the caller closes the connection.
func (o *Orchestrator) AddStreamClient(sessionID string, conn StreamConn) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok {
		return false
	}
	s.subscribers[conn] = struct{}{}
	return true
}

// RemoveStreamClient deregisters a subscriber. Tolerates unknown sessions and
// connections; the close path may run twice.
func (o *Orchestrator) RemoveStreamClient(sessionID string, conn StreamConn) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.sessions[sessionID]; ok {
		delete(s.subscribers, conn)
	}
}

// ListUserSessions returns the live sessions owned by an identity.
func (o *Orchestrator) ListUserSessions(identity string) []Info {
	o.mu.Lock()
	defer o.mu.Unlock()

	infos := make([]Info, 0)
	for _, s := range o.sessions {
		if s.Identity != identity {
			continue
		}
		infos = append(infos, Info{
			ID:           s.ID,
			Workspace:    s.Workspace,
			Status:       s.status,
			Model:        s.Model,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.lastActivity,
		})
	}
	return infos
}

// IsUserSession reports whether the session exists and is owned by identity.
// Every mutating operation is preceded by this check at the API boundary.
func (o *Orchestrator) IsUserSession(sessionID, identity string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	return ok && s.Identity == identity
}

// streamFrame is the JSON envelope sent to session stream subscribers.
type streamFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// drive is the per-session driver loop: it consumes the runtime's output
// stream, fans events out to subscribers, and records the terminal status.
func (o *Orchestrator) drive(s *Session, outputs <-chan runtime.Output) {
	for out := range outputs {
		// The session may have been closed mid-iteration; do not keep
		// broadcasting on behalf of removed state.
		if !o.isLive(s) {
			return
		}

		if out.Err != nil {
			o.logger.Warn("runtime error",
				"session_id", s.ID,
				"error", out.Err,
			)
			o.finish(s, store.StatusError, out.Err.Error())
			return
		}

		o.broadcast(s, streamFrame{Type: "event", SessionID: s.ID, Event: out.Event})
	}

	o.finish(s, store.StatusIdle, "")
}

// finish records a terminal transition: status on the live session, a done or
// error frame to subscribers, and the persisted record. The session stays
// resident until explicitly closed.
func (o *Orchestrator) finish(s *Session, status, errMsg string) {
	o.mu.Lock()
	if cur, ok := o.sessions[s.ID]; !ok || cur != s {
		// Closed concurrently; do not resurrect its state.
		o.mu.Unlock()
		return
	}
	s.status = status
	s.lastActivity = time.Now().UTC()
	o.mu.Unlock()

	if status == store.StatusError {
		o.broadcast(s, streamFrame{Type: "error", SessionID: s.ID, Error: errMsg})
	} else {
		o.broadcast(s, streamFrame{Type: "done", SessionID: s.ID})
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.UpdateSessionRecord(ctx, s.Identity, s.ID, status, s.lastActivity); err != nil {
		o.logger.Error("updating session record",
			"session_id", s.ID,
			"status", status,
			"error", err,
		)
	}

	o.logger.Info("session finished", "session_id", s.ID, "status", status)
}

// notifyIdle tells subscribers the runtime has consumed the pending turn and
// is waiting for more input. Fired by the bridge on its second pull.
func (o *Orchestrator) notifyIdle(sessionID string) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return
	}

	o.broadcast(s, streamFrame{Type: "idle", SessionID: sessionID})
}

// broadcast sends a frame to every subscriber, best-effort. Write failures
// are swallowed; the connection's close event is the authoritative cleanup
// signal.
func (o *Orchestrator) broadcast(s *Session, frame streamFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		o.logger.Error("marshaling stream frame", "session_id", s.ID, "error", err)
		return
	}

	o.mu.Lock()
	targets := make([]StreamConn, 0, len(s.subscribers))
	for conn := range s.subscribers {
		targets = append(targets, conn)
	}
	o.mu.Unlock()

	for _, conn := range targets {
		_ = conn.Send(data)
	}
}

// isLive reports whether s is still the table entry for its id.
func (o *Orchestrator) isLive(s *Session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	cur, ok := o.sessions[s.ID]
	return ok && cur == s
}

// removeSession deletes s from the table if it is still the live entry.
func (o *Orchestrator) removeSession(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cur, ok := o.sessions[s.ID]; ok && cur == s {
		delete(o.sessions, s.ID)
	}
}

// deleteRecord removes the persisted record, logging failures.
func (o *Orchestrator) deleteRecord(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.store.DeleteSessionRecord(ctx, s.Identity, s.ID); err != nil {
		o.logger.Error("deleting session record", "session_id", s.ID, "error", err)
	}
}

// Shutdown closes every live session. Used by the gateway on teardown so no
// runtime processes outlive the server.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		_ = o.CloseSession(id)
	}
}

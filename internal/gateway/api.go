// ABOUTME: HTTP API handlers for the session control surface and admin observability
// ABOUTME: Every mutating session endpoint checks ownership before touching the orchestrator

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/perch-gateway/internal/auth"
	"github.com/2389/perch-gateway/internal/session"
)

// CreateSessionRequest is the JSON request body for POST /api/sessions.
type CreateSessionRequest struct {
	Workspace string `json:"workspace"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
	Effort    string `json:"effort,omitempty"`
}

// CreateSessionResponse is the JSON response for POST /api/sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// SendMessageRequest is the JSON request body for POST /api/sessions/{id}/messages.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// ListSessionsResponse is the JSON response for GET /api/sessions.
type ListSessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
}

// SessionRecordResponse is one entry of GET /api/sessions/history.
type SessionRecordResponse struct {
	ID           string `json:"id"`
	Workspace    string `json:"workspace"`
	Status       string `json:"status"`
	Model        string `json:"model,omitempty"`
	CreatedAt    string `json:"created_at"`
	LastActivity string `json:"last_activity"`
}

// errorResponse is the structured error body for request-level failures.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error with a cause code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// handleCreateSession handles POST /api/sessions.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Workspace == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "workspace and prompt are required")
		return
	}

	id, err := g.orchestrator.CreateSession(r.Context(), &session.CreateRequest{
		Identity:  identity,
		Workspace: req.Workspace,
		Prompt:    req.Prompt,
		Model:     req.Model,
		Effort:    req.Effort,
	})
	switch {
	case errors.Is(err, session.ErrWorkspaceNotFound):
		writeError(w, http.StatusNotFound, "workspace_not_found", err.Error())
		return
	case errors.Is(err, session.ErrSessionLimit):
		writeError(w, http.StatusTooManyRequests, "capacity_exceeded", err.Error())
		return
	case err != nil:
		g.logger.Error("creating session", "identity", identity, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: id})
}

// handleListSessions handles GET /api/sessions.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())
	writeJSON(w, http.StatusOK, ListSessionsResponse{
		Sessions: g.orchestrator.ListUserSessions(identity),
	})
}

// handleSessionHistory handles GET /api/sessions/history. It reads the
// durable session records, which survive process restarts, unlike the live
// table behind GET /api/sessions.
func (g *Gateway) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFrom(r.Context())

	records, err := g.store.ListSessionRecords(r.Context(), identity)
	if err != nil {
		g.logger.Error("listing session records", "identity", identity, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list session records")
		return
	}

	resp := make([]SessionRecordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, SessionRecordResponse{
			ID:           rec.ID,
			Workspace:    rec.Workspace,
			Status:       rec.Status,
			Model:        rec.Model,
			CreatedAt:    rec.CreatedAt.Format(time.RFC3339),
			LastActivity: rec.LastActivity.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": resp})
}

// requireOwnedSession enforces the ownership check every mutating session
// endpoint performs. The orchestrator is identity-agnostic once a session
// exists, so a wrong-identity request must fail here, not there.
func (g *Gateway) requireOwnedSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := auth.IdentityFrom(r.Context())
	sessionID := r.PathValue("id")

	if !g.orchestrator.IsUserSession(sessionID, identity) {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return "", false
	}
	return sessionID, true
}

// handleSendMessage handles POST /api/sessions/{id}/messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.requireOwnedSession(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "text is required")
		return
	}

	if err := g.orchestrator.SendMessage(sessionID, req.Text); err != nil {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleInterrupt handles POST /api/sessions/{id}/interrupt.
func (g *Gateway) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.requireOwnedSession(w, r)
	if !ok {
		return
	}

	if err := g.orchestrator.InterruptSession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "session_not_found", "session not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleCloseSession handles DELETE /api/sessions/{id}.
func (g *Gateway) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.requireOwnedSession(w, r)
	if !ok {
		return
	}

	_ = g.orchestrator.CloseSession(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handleSessionStream handles GET /api/sessions/{id}/stream. Token and
// ownership are verified before the WebSocket handshake; a failed check gets
// a plain HTTP error, never an upgrade.
func (g *Gateway) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	identity, err := g.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if !g.orchestrator.IsUserSession(sessionID, identity) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Debug("stream accept failed", "session_id", sessionID, "error", err)
		return
	}

	conn := newStreamConn(ws)
	if !g.orchestrator.AddStreamClient(sessionID, conn) {
		// Session closed between the ownership check and the attach.
		_ = ws.Close(session.StatusSessionNotFound, "session not found")
		return
	}

	g.logger.Info("stream client attached", "session_id", sessionID, "identity", identity)

	// Subscribers only receive; inbound frames are drained until close.
	ctx := r.Context()
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			break
		}
	}

	g.orchestrator.RemoveStreamClient(sessionID, conn)
	_ = ws.Close(websocket.StatusNormalClosure, "")

	g.logger.Info("stream client detached", "session_id", sessionID)
}

// handleRelayStats handles GET /api/relay/stats.
func (g *Gateway) handleRelayStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.relay.GetStats())
}

// handleRelayRooms handles GET /api/relay/rooms.
func (g *Gateway) handleRelayRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": g.relay.ListRooms()})
}

// Package gateway orchestrates the perch-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the perch-gateway server.
// It owns and manages all major components: HTTP server, relay gateway,
// session orchestrator, data store, and the optional Tailscale listener.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config       *config.Config
//	    store        store.Store
//	    relay        *relay.Gateway
//	    orchestrator *session.Orchestrator
//	    verifier     *auth.JWTVerifier
//	    httpServer   *http.Server
//	    tsnetServer  *tsnet.Server
//	}
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - POST   /api/sessions - Create an agent session
//   - GET    /api/sessions - List the caller's live sessions
//   - GET    /api/sessions/history - List persisted session records
//   - POST   /api/sessions/{id}/messages - Queue a prompt for a session
//   - POST   /api/sessions/{id}/interrupt - Interrupt the running turn
//   - DELETE /api/sessions/{id} - Close a session
//   - GET    /api/sessions/{id}/stream - WebSocket event stream
//   - GET    /relay/ws - Relay WebSocket (role=desktop|mobile)
//   - GET    /api/relay/stats - Relay occupancy counters
//   - GET    /api/relay/rooms - Per-room relay occupancy
//   - GET    /health - Liveness check
//   - GET    /health/ready - Readiness check
//
// REST endpoints require a bearer token. The WebSocket endpoints accept the
// token via the Authorization header or a token query parameter, since
// browser WebSocket clients cannot set headers.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run blocks until the context is canceled, then shuts down the HTTP server,
// closes all live sessions, and releases the store.
//
// # Listeners
//
// With tailscale.enabled the gateway joins a tailnet via tsnet instead of
// binding a local TCP port. HTTPS and Funnel variants use Tailscale's
// auto-provisioned certificates.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown, listeners
//   - api.go: HTTP handlers and the session stream WebSocket
//   - conn.go: WebSocket adapter for session stream subscribers
package gateway

// Package auth provides bearer-token authentication for perch-gateway.
//
// # Tokens
//
// Clients authenticate with JWT tokens signed with HS256 using the configured
// jwt_secret. The subject claim carries the identity, which scopes relay
// rooms and session ownership:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("alice", 30*24*time.Hour)
//	identity, err := verifier.Verify(token)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware wraps handlers with bearer-token checks and injects the
// verified identity into the request context:
//
//	mux.Handle("POST /api/sessions", auth.HTTPAuthMiddleware(verifier)(handler))
//
// Handlers read the identity back with IdentityFrom(ctx).
//
// # WebSocket Clients
//
// Browser WebSocket clients cannot set an Authorization header, so
// TokenFromRequest also accepts the token as a "token" query parameter.
// WebSocket endpoints call it directly before upgrading.
package auth

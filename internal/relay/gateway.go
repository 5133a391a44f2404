// ABOUTME: Relay gateway that authenticates inbound connections and places them into rooms
// ABOUTME: Owns the identity-to-room registry and deletes rooms once their last connection leaves

package relay

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/perch-gateway/internal/auth"
)

// Declared connection roles on the relay wire protocol.
const (
	RoleDesktop = "desktop"
	RoleMobile  = "mobile"
)

// Gateway accepts relay connections, resolves their token to an identity, and
// dispatches them into that identity's room, lazily creating and destroying
// rooms as connections come and go.
type Gateway struct {
	mu    sync.Mutex
	rooms map[string]*Room

	verifier   auth.TokenVerifier
	maxMobiles int
	logger     *slog.Logger
}

// NewGateway creates a relay Gateway. maxMobiles caps the mobile slot set of
// each room.
func NewGateway(verifier auth.TokenVerifier, maxMobiles int, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		rooms:      make(map[string]*Room),
		verifier:   verifier,
		maxMobiles: maxMobiles,
		logger:     logger.With("component", "relay"),
	}
}

// HandleWS is the HTTP handler for the relay WebSocket endpoint. Connect
// parameters are a bearer token (Authorization header or token query param)
// and a role query param. Invalid parameters close the socket with a protocol
// error, a bad token with an auth error, and a full room with a capacity
// error; none of those register any handlers.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	role := r.URL.Query().Get("role")

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err)
		return
	}

	if token == "" || (role != RoleDesktop && role != RoleMobile) {
		_ = ws.Close(StatusProtocolError, "missing or invalid connect parameters")
		return
	}

	identity, err := g.verifier.Verify(token)
	if err != nil {
		_ = ws.Close(StatusAuthFailed, "authentication failed")
		return
	}

	conn := newWSConn(ws)
	room, err := g.admit(identity, role, conn)
	if err != nil {
		_ = ws.Close(StatusCapacity, "mobile capacity exceeded")
		return
	}

	g.logger.Info("relay client connected", "identity", identity, "role", role)

	// Read loop: inbound frames are opaque payloads routed by the room.
	// The loop ends when the peer closes or the connection errors.
	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			break
		}
		room.HandleMessage(conn, data)
	}

	room.RemoveClient(conn)
	g.releaseIfEmpty(identity, room)
	_ = ws.Close(websocket.StatusNormalClosure, "")

	g.logger.Info("relay client disconnected", "identity", identity, "role", role)
}

// admit resolves the identity's room (creating it on first connection) and
// installs conn into the role's slot. Lookup and slot add happen under the
// registry lock as one step, so a concurrent release of the identity's last
// connection cannot delete the room between them and strand conn in a room
// the registry no longer holds.
func (g *Gateway) admit(identity, role string, conn Conn) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[identity]
	if !ok {
		room = NewRoom(identity, g.maxMobiles, g.logger)
		g.rooms[identity] = room
		g.logger.Debug("room created", "identity", identity)
	}

	switch role {
	case RoleDesktop:
		room.AddDesktop(conn)
	case RoleMobile:
		if err := room.AddMobile(conn); err != nil {
			if room.IsEmpty() {
				delete(g.rooms, identity)
			}
			return nil, err
		}
	}
	return room, nil
}

// releaseIfEmpty deletes the room from the registry once it holds no
// connections. Rooms never outlive their last connection.
func (g *Gateway) releaseIfEmpty(identity string, room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cur, ok := g.rooms[identity]; ok && cur == room && room.IsEmpty() {
		delete(g.rooms, identity)
		g.logger.Debug("room destroyed", "identity", identity)
	}
}

// Stats is the aggregate view of the relay for observability consumers.
type Stats struct {
	Rooms    int `json:"rooms"`
	Desktops int `json:"desktops"`
	Mobiles  int `json:"mobiles"`
}

// RoomInfo is the per-room view for the admin listing.
type RoomInfo struct {
	Identity           string     `json:"identity"`
	HasDesktop         bool       `json:"has_desktop"`
	DesktopConnectedAt *time.Time `json:"desktop_connected_at,omitempty"`
	MobileCount        int        `json:"mobile_count"`
}

// GetStats returns aggregate room, desktop, and mobile counts.
func (g *Gateway) GetStats() Stats {
	rooms := g.snapshot()

	stats := Stats{Rooms: len(rooms)}
	for _, room := range rooms {
		if room.HasDesktop() {
			stats.Desktops++
		}
		stats.Mobiles += room.MobileCount()
	}
	return stats
}

// ListRooms returns a per-room listing for admin views.
func (g *Gateway) ListRooms() []RoomInfo {
	rooms := g.snapshot()

	infos := make([]RoomInfo, 0, len(rooms))
	for identity, room := range rooms {
		info := RoomInfo{
			Identity:    identity,
			HasDesktop:  room.HasDesktop(),
			MobileCount: room.MobileCount(),
		}
		if at := room.DesktopConnectedAt(); !at.IsZero() {
			info.DesktopConnectedAt = &at
		}
		infos = append(infos, info)
	}
	return infos
}

// snapshot copies the registry so accessors run without the registry lock.
func (g *Gateway) snapshot() map[string]*Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	rooms := make(map[string]*Room, len(g.rooms))
	for identity, room := range g.rooms {
		rooms[identity] = room
	}
	return rooms
}

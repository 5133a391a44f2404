// Package relay implements per-identity message relay rooms.
//
// # Overview
//
// The relay package connects one desktop client and a bounded set of mobile
// clients per identity. Every authenticated identity gets at most one Room.
// The desktop is typically a workstation agent host; mobiles are phones or
// tablets mirroring it.
//
// # Rooms
//
// A Room holds one desktop slot and up to maxMobiles mobile connections:
//
//	room := relay.NewRoom("alice", 4, logger)
//	room.AddDesktop(conn)        // evicts any previous desktop
//	err := room.AddMobile(conn)  // ErrRoomFull at capacity
//
// Connecting a second desktop evicts the first: the old connection receives a
// relay:kicked control frame and is closed with code 4001 before the new
// desktop is installed. Mobiles beyond capacity are rejected with code 4002.
//
// # Routing
//
// Messages route by role, never echoing to the sender:
//
//   - desktop -> every connected mobile
//   - mobile  -> the desktop (silently dropped when no desktop is connected)
//
// Payloads are forwarded verbatim; the relay never inspects them.
//
// # Presence
//
// Mobiles learn about desktop presence through control frames:
//
//	{"type": "relay:desktop-online"}
//	{"type": "relay:desktop-offline"}
//
// A mobile receives the current presence state immediately on join, then a
// frame on every transition.
//
// # Gateway
//
// Gateway terminates WebSocket connections, authenticates them, and assigns
// them to rooms:
//
//	GET /relay/ws?role=desktop|mobile
//
// The bearer token (Authorization header or token query parameter) determines
// the identity and therefore the room. Close codes:
//
//   - 4000: missing or invalid role
//   - 4001: desktop kicked by a newer desktop
//   - 4002: mobile capacity exceeded
//   - 4003: authentication failed
//
// Rooms are created lazily on first join and released when the last client
// leaves.
package relay

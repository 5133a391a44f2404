// ABOUTME: Per-identity connection room with one desktop slot and a bounded mobile set
// ABOUTME: Routes messages desktop-to-mobiles and mobile-to-desktop with presence notifications

package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ErrRoomFull indicates the room's mobile slot set is at capacity.
var ErrRoomFull = errors.New("room mobile capacity reached")

// Close codes on the relay wire protocol.
const (
	// StatusProtocolError closes connections with missing or invalid connect params.
	StatusProtocolError websocket.StatusCode = 4000

	// StatusKicked closes a desktop that was replaced by a newer one.
	StatusKicked websocket.StatusCode = 4001

	// StatusCapacity closes a mobile rejected because the room is full.
	StatusCapacity websocket.StatusCode = 4002

	// StatusAuthFailed closes connections whose token did not resolve.
	StatusAuthFailed websocket.StatusCode = 4003
)

// Control frame types sent by the room.
const (
	frameDesktopOnline  = "relay:desktop-online"
	frameDesktopOffline = "relay:desktop-offline"
	frameKicked         = "relay:kicked"
)

// Conn is the raw connection abstraction the room routes between. Send is
// best-effort: a failed write is swallowed and the peer's close event drives
// removal.
type Conn interface {
	Send(data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// controlFrame is the JSON envelope for room control notifications.
type controlFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// member is an occupied slot: the connection plus when it attached.
type member struct {
	conn        Conn
	connectedAt time.Time
}

// Room holds one identity's connections: at most one desktop and a bounded
// set of mobiles. Rooms are purely in-memory and never outlive their last
// connection; the relay gateway deletes a room once IsEmpty reports true.
type Room struct {
	identity   string
	maxMobiles int

	mu      sync.Mutex
	desktop *member
	mobiles map[Conn]*member

	logger *slog.Logger
}

// NewRoom creates a room for the given identity.
func NewRoom(identity string, maxMobiles int, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		identity:   identity,
		maxMobiles: maxMobiles,
		mobiles:    make(map[Conn]*member),
		logger:     logger.With("component", "room", "identity", identity),
	}
}

// AddDesktop installs conn in the desktop slot. Any previous occupant first
// receives a kicked notification and is then force-closed. The eviction and
// the kicked frame happen under the room lock, so no message from the evicted
// desktop can be routed after its notification. Ends by broadcasting
// desktop-online to all mobiles.
func (r *Room) AddDesktop(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.desktop; prev != nil {
		r.sendControl(prev.conn, controlFrame{Type: frameKicked, Reason: "replaced by new desktop"})
		_ = prev.conn.Close(StatusKicked, "replaced by new desktop")
		r.logger.Info("desktop replaced")
	}

	r.desktop = &member{conn: conn, connectedAt: time.Now()}

	for mobile := range r.mobiles {
		r.sendControl(mobile, controlFrame{Type: frameDesktopOnline})
	}

	r.logger.Debug("desktop attached", "mobiles", len(r.mobiles))
}

// AddMobile adds conn to the mobile set. Returns ErrRoomFull at capacity; the
// caller is responsible for closing the rejected connection. On success the
// new mobile is immediately told whether a desktop is online.
func (r *Room) AddMobile(conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.mobiles) >= r.maxMobiles {
		return ErrRoomFull
	}

	r.mobiles[conn] = &member{conn: conn, connectedAt: time.Now()}

	presence := controlFrame{Type: frameDesktopOffline}
	if r.desktop != nil {
		presence = controlFrame{Type: frameDesktopOnline}
	}
	r.sendControl(conn, presence)

	r.logger.Debug("mobile attached", "mobiles", len(r.mobiles))
	return nil
}

// RemoveClient clears conn from whichever slot holds it. Removing the desktop
// broadcasts desktop-offline to all mobiles. Unknown connections are a no-op,
// so duplicate close events are tolerated.
func (r *Room) RemoveClient(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.desktop != nil && r.desktop.conn == conn {
		r.desktop = nil
		for mobile := range r.mobiles {
			r.sendControl(mobile, controlFrame{Type: frameDesktopOffline})
		}
		r.logger.Debug("desktop detached")
		return
	}

	if _, ok := r.mobiles[conn]; ok {
		delete(r.mobiles, conn)
		r.logger.Debug("mobile detached", "mobiles", len(r.mobiles))
	}
}

// HandleMessage routes payload verbatim: desktop messages go to every mobile,
// mobile messages go only to the desktop (dropped silently when none is
// attached). Messages from unknown senders are ignored.
func (r *Room) HandleMessage(sender Conn, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.desktop != nil && r.desktop.conn == sender {
		for mobile := range r.mobiles {
			_ = mobile.Send(payload)
		}
		return
	}

	if _, ok := r.mobiles[sender]; ok {
		if r.desktop != nil {
			_ = r.desktop.conn.Send(payload)
		}
		return
	}
}

// IsEmpty reports whether both slots are unoccupied.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.desktop == nil && len(r.mobiles) == 0
}

// HasDesktop reports whether the desktop slot is occupied.
func (r *Room) HasDesktop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.desktop != nil
}

// MobileCount returns the number of occupied mobile slots.
func (r *Room) MobileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mobiles)
}

// DesktopConnectedAt returns when the current desktop attached, or the zero
// time if the slot is unoccupied.
func (r *Room) DesktopConnectedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.desktop == nil {
		return time.Time{}
	}
	return r.desktop.connectedAt
}

// sendControl marshals and sends a control frame, best-effort.
// Caller holds r.mu.
func (r *Room) sendControl(conn Conn, frame controlFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("marshaling control frame", "type", frame.Type, "error", err)
		return
	}
	_ = conn.Send(data)
}

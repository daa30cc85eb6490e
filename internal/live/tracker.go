package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

type trackedConn struct {
	userID string
	roomID string
	conn   *websocket.Conn
}

// Tracker keeps every accepted websocket so they can be counted and closed
// together on shutdown.
type Tracker struct {
	mu     sync.RWMutex
	active map[string]trackedConn
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]trackedConn)}
}

// Register adds a connection under its session id.
func (m *Tracker) Register(sessionID, userID, roomID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[sessionID] = trackedConn{userID: userID, roomID: roomID, conn: conn}
	slog.Debug("Live connection registered", "session_id", sessionID, "user_id", userID, "room_id", roomID)
}

// Unregister removes the connection if it is still the one registered.
func (m *Tracker) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[sessionID]; ok && current.conn == conn {
		delete(m.active, sessionID)
		slog.Debug("Live connection unregistered", "session_id", sessionID, "user_id", current.userID)
	}
}

// Count returns the number of tracked connections.
func (m *Tracker) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// CountRoom returns the number of tracked connections for one room.
func (m *Tracker) CountRoom(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.active {
		if c.roomID == roomID {
			n++
		}
	}
	return n
}

// CloseAll closes every tracked connection.
func (m *Tracker) CloseAll(reason string) {
	m.mu.Lock()
	conns := m.active
	m.active = make(map[string]trackedConn)
	m.mu.Unlock()

	for sid, c := range conns {
		// CloseNow avoids waiting on each peer's close handshake.
		_ = c.conn.CloseNow()
		slog.Info("Live connection closed", "session_id", sid, "user_id", c.userID, "reason", reason)
	}
}

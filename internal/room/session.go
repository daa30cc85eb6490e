package room

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrSessionClosed is returned when writing to a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrBackpressure is returned when a session's outbound queue is full.
	ErrBackpressure = errors.New("session outbound queue full")
)

// Conn is the outbound half of a live connection. Send must not block
// for long; implementations queue and write asynchronously.
type Conn interface {
	Send(data []byte) error
	Close()
}

// SessionState is the lifecycle of a ConnectionSession.
type SessionState int32

const (
	SessionConnecting SessionState = iota
	SessionOpen
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionOpen:
		return "open"
	case SessionClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one live connection bound to a room. Only the owning Actor
// changes its state.
type Session struct {
	ID       string
	UserID   string
	UserName string
	RoomID   string

	conn  Conn
	state atomic.Int32
}

// NewSession creates a session in the connecting state.
func NewSession(userID, userName, roomID string, conn Conn) *Session {
	return &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		UserName: userName,
		RoomID:   roomID,
		conn:     conn,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

func (s *Session) send(data []byte) error {
	if s.State() != SessionOpen {
		return ErrSessionClosed
	}
	return s.conn.Send(data)
}

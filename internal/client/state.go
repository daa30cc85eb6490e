package client

import (
	"strings"
	"sync"

	"github.com/velocity-chat/velocity/internal/domain"
)

// TempIDPrefix marks provisional message ids.
const TempIDPrefix = "temp-"

// ConnStatus is the live connection state shown to the user.
type ConnStatus string

const (
	StatusDisconnected ConnStatus = "disconnected"
	StatusConnecting   ConnStatus = "connecting"
	StatusConnected    ConnStatus = "connected"
)

// State is an immutable snapshot of the client. Actions never modify a
// State in place; they return a new one sharing unchanged parts.
type State struct {
	User       *domain.User
	Rooms      []domain.Room
	ActiveRoom string
	Messages   map[string][]domain.Message
	Presence   map[string]domain.Presence
	Conn       ConnStatus
}

// RoomMessages returns a copy of one room's messages.
func (s State) RoomMessages(roomID string) []domain.Message {
	return append([]domain.Message(nil), s.Messages[roomID]...)
}

// IsProvisional reports whether m was created locally and not yet
// confirmed by the server.
func IsProvisional(m domain.Message) bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Action is a pure state transition.
type Action func(State) State

func SetUser(u domain.User) Action {
	return func(s State) State {
		s.User = &u
		return s
	}
}

// ClearUser drops the user and every room-scoped view.
func ClearUser() Action {
	return func(State) State {
		return State{Conn: StatusDisconnected}
	}
}

func SetActiveRoom(roomID string) Action {
	return func(s State) State {
		s.ActiveRoom = roomID
		return s
	}
}

func SetRooms(rooms []domain.Room) Action {
	rooms = append([]domain.Room(nil), rooms...)
	return func(s State) State {
		s.Rooms = rooms
		return s
	}
}

func SetConnStatus(st ConnStatus) Action {
	return func(s State) State {
		s.Conn = st
		return s
	}
}

func SetPresence(roomID string, p domain.Presence) Action {
	return func(s State) State {
		s.Presence = withEntry(s.Presence, roomID, p)
		return s
	}
}

// ReplaceMessages installs the server's list for a room.
func ReplaceMessages(roomID string, msgs []domain.Message) Action {
	msgs = append([]domain.Message(nil), msgs...)
	return func(s State) State {
		s.Messages = withEntry(s.Messages, roomID, msgs)
		return s
	}
}

// RestoreMessages puts back an earlier snapshot of a room's list.
func RestoreMessages(roomID string, snapshot []domain.Message) Action {
	return ReplaceMessages(roomID, snapshot)
}

// AppendMessage adds m unless its id is already present. A confirmed
// message replaces the oldest provisional entry with the same sender and
// content.
func AppendMessage(roomID string, m domain.Message) Action {
	return func(s State) State {
		cur := s.Messages[roomID]
		for _, existing := range cur {
			if existing.ID == m.ID {
				return s
			}
		}

		next := make([]domain.Message, 0, len(cur)+1)
		next = append(next, cur...)
		if !IsProvisional(m) {
			for i, existing := range next {
				if IsProvisional(existing) && existing.SenderID == m.SenderID && existing.Content == m.Content {
					next[i] = m
					s.Messages = withEntry(s.Messages, roomID, next)
					return s
				}
			}
		}
		s.Messages = withEntry(s.Messages, roomID, append(next, m))
		return s
	}
}

// RemoveMessage drops the message with id.
func RemoveMessage(roomID, id string) Action {
	return func(s State) State {
		cur := s.Messages[roomID]
		next := make([]domain.Message, 0, len(cur))
		for _, m := range cur {
			if m.ID != id {
				next = append(next, m)
			}
		}
		if len(next) == len(cur) {
			return s
		}
		s.Messages = withEntry(s.Messages, roomID, next)
		return s
	}
}

// withEntry copies m and sets key.
func withEntry[V any](m map[string]V, key string, v V) map[string]V {
	out := make(map[string]V, len(m)+1)
	for k, existing := range m {
		out[k] = existing
	}
	out[key] = v
	return out
}

// Store holds the current State and applies actions one at a time.
type Store struct {
	mu     sync.Mutex
	state  State
	subs   map[int]func(State)
	nextID int
}

// NewStore creates a store in the disconnected state.
func NewStore() *Store {
	return &Store{
		state: State{Conn: StatusDisconnected},
		subs:  make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch applies a and notifies subscribers with the new state.
// Subscribers run on the dispatching goroutine, outside the lock.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	s.state = a(s.state)
	next := s.state
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next
}

// Subscribe registers fn for every future state. The returned func
// unregisters it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

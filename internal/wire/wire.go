// Package wire defines the JSON contract between the server and clients:
// live-connection intents and events, REST request bodies, and the REST
// response envelope.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/velocity-chat/velocity/internal/domain"
)

// ErrMalformedIntent is returned for intents that cannot be dispatched.
var ErrMalformedIntent = errors.New("malformed intent")

// Intent kinds, client to server.
const (
	IntentChat   = "chat"
	IntentTyping = "typing"
)

// Event kinds, server to client.
const (
	EventMessage  = "message"
	EventPresence = "presence"
)

// Intent is a client request sent over the live connection.
type Intent struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Content string `json:"content,omitempty"`
}

// Validate checks the intent against the room the session is bound to.
func (in Intent) Validate(roomID string) error {
	if in.RoomID == "" {
		return fmt.Errorf("%w: missing roomId", ErrMalformedIntent)
	}
	if in.RoomID != roomID {
		return fmt.Errorf("%w: roomId %q does not match session room %q", ErrMalformedIntent, in.RoomID, roomID)
	}
	switch in.Type {
	case IntentChat:
		if in.Content == "" {
			return fmt.Errorf("%w: empty chat content", ErrMalformedIntent)
		}
	case IntentTyping:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedIntent, in.Type)
	}
	return nil
}

// DecodeIntent parses a raw frame.
func DecodeIntent(data []byte) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	return in, nil
}

// Event is a server broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// MessageEvent wraps a stored message.
func MessageEvent(m domain.Message) Event {
	return Event{Type: EventMessage, Data: m}
}

// PresenceEvent wraps a presence snapshot.
func PresenceEvent(p domain.Presence) Event {
	return Event{Type: EventPresence, Data: p}
}

// RawEvent is an event as seen by a client before the payload is decoded.
type RawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Envelope is the REST response wrapper.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the client-side view of an Envelope with a typed payload.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

type LoginRequest struct {
	Email string `json:"email"`
}

type CreateRoomRequest struct {
	Name string          `json:"name"`
	Type domain.RoomType `json:"type"`
}

type PostMessageRequest struct {
	SenderID   string             `json:"senderId"`
	SenderName string             `json:"senderName"`
	Content    string             `json:"content"`
	Type       domain.MessageType `json:"type,omitempty"`
}

type PresenceRequest struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

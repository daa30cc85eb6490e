package domain

import (
	"errors"
	"regexp"
)

// RoomType distinguishes listed rooms from invite-style rooms.
type RoomType string

const (
	RoomPublic  RoomType = "public"
	RoomPrivate RoomType = "private"
)

// ErrInvalidRoomID is returned for room ids outside the allowed alphabet.
var ErrInvalidRoomID = errors.New("invalid room id")

// Room ids never contain ':' so per-room key prefixes cannot overlap.
var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Room is an entry of the room directory.
type Room struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        RoomType `json:"type"`
	UnreadCount int      `json:"unreadCount"`
	LastMessage string   `json:"lastMessage,omitempty"`
}

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	return t == RoomPublic || t == RoomPrivate
}

// ValidateRoomID checks that id is usable as a room key.
func ValidateRoomID(id string) error {
	if !roomIDPattern.MatchString(id) {
		return ErrInvalidRoomID
	}
	return nil
}

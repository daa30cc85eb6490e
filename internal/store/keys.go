package store

// Key layout:
//
//	user:{id}                    registry
//	rooms                        registry
//	messages:{roomId}            room actor
//	presence:{roomId}:{userId}   room actor
const (
	userPrefix     = "user:"
	roomsKey       = "rooms"
	messagesPrefix = "messages:"
	presencePrefix = "presence:"
)

// UserKey is the key of a stored identity record.
func UserKey(userID string) string { return userPrefix + userID }

// RoomsKey is the key of the room directory.
func RoomsKey() string { return roomsKey }

// MessagesKey is the key of a room's bounded message list.
func MessagesKey(roomID string) string { return messagesPrefix + roomID }

// PresenceKey is the key of one user's presence record in a room.
func PresenceKey(roomID, userID string) string { return PresencePrefix(roomID) + userID }

// PresencePrefix selects every presence record of a room.
func PresencePrefix(roomID string) string { return presencePrefix + roomID + ":" }

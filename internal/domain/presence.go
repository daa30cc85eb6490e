package domain

import "time"

// PresenceRecord is the ephemeral liveness entry of one user in one room.
type PresenceRecord struct {
	RoomID     string    `json:"roomId"`
	UserID     string    `json:"userId"`
	UserName   string    `json:"userName"`
	LastActive time.Time `json:"lastActive"`
	IsTyping   bool      `json:"isTyping"`
}

// Age returns how long ago the record was last refreshed.
func (r PresenceRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.LastActive)
}

// Presence is the result of a presence query.
type Presence struct {
	Typing []string `json:"typing"`
	Online []User   `json:"online"`
}

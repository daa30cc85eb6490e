// Package domain contains core domain types for the Velocity chat server.
package domain

// UserStatus is the coarse availability of a user.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
	StatusAway    UserStatus = "away"
)

// User is a chat participant. ID is derived from Email.
type User struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Email  string     `json:"email"`
	Avatar string     `json:"avatar,omitempty"`
	Status UserStatus `json:"status"`
}

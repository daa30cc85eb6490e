// Package identity provides deterministic email-derived identity and
// per-request identity context.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

const (
	UserIDParam    = "userId"
	UserNameParam  = "userName"
	UserIDHeader   = "X-Velocity-User-ID"
	UserNameHeader = "X-Velocity-User-Name"

	userIDPrefix = "u_"
	userIDHexLen = 16
	avatarBase   = "https://api.dicebear.com/7.x/avataaars/svg?seed="
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
)

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DeriveUserID maps an email to a stable user id. It is a pure function of
// the normalized email.
func DeriveUserID(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return userIDPrefix + hex.EncodeToString(sum[:])[:userIDHexLen]
}

// DisplayName returns the local part of the email.
func DisplayName(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// AvatarURL returns the generated avatar for a user id.
func AvatarURL(userID string) string {
	return avatarBase + userID
}

// WithUser attaches the caller's identity to ctx.
func WithUser(ctx context.Context, userID, username string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, username)
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// FromRequest reads the claimed identity from query parameters, falling
// back to headers. No verification is performed.
func FromRequest(r *http.Request) (userID, username string) {
	q := r.URL.Query()
	userID = strings.TrimSpace(q.Get(UserIDParam))
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get(UserIDHeader))
	}
	username = strings.TrimSpace(q.Get(UserNameParam))
	if username == "" {
		username = strings.TrimSpace(r.Header.Get(UserNameHeader))
	}
	if username == "" && userID != "" {
		username = userID
	}
	return userID, username
}

// Middleware injects the claimed identity, when present, into the request
// context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, username := FromRequest(r)
		if userID != "" {
			r = r.WithContext(WithUser(r.Context(), userID, username))
		}
		next.ServeHTTP(w, r)
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

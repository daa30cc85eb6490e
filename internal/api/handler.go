// Package api provides HTTP handlers for the Velocity REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/velocity-chat/velocity/internal/actor"
	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/registry"
	"github.com/velocity-chat/velocity/internal/room"
	"github.com/velocity-chat/velocity/internal/wire"
)

const maxBodyBytes = 64 << 10

// Directory is the registry surface used by the handlers.
type Directory interface {
	Login(ctx context.Context, email string) (domain.User, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	CreateRoom(ctx context.Context, name string, typ domain.RoomType) (domain.Room, error)
}

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the REST endpoints.
type Handler struct {
	dir       Directory
	hub       *room.Hub
	store     Pinger
	liveCount func() int
}

// NewHandler creates a Handler. liveCount may be nil.
func NewHandler(dir Directory, hub *room.Hub, store Pinger, liveCount func() int) *Handler {
	if liveCount == nil {
		liveCount = func() int { return 0 }
	}
	return &Handler{
		dir:       dir,
		hub:       hub,
		store:     store,
		liveCount: liveCount,
	}
}

// JSON writes a success envelope with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	write(w, status, wire.Envelope{Success: true, Data: v})
}

// Error writes a failure envelope.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, wire.Envelope{Success: false, Error: message})
}

func write(w http.ResponseWriter, status int, env wire.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// decode reads a JSON body into dst, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail maps domain errors to status codes. Unknown errors are logged and
// reported generically.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrEmptyEmail),
		errors.Is(err, registry.ErrEmptyRoomName),
		errors.Is(err, registry.ErrInvalidRoomType),
		errors.Is(err, domain.ErrInvalidRoomID),
		errors.Is(err, wire.ErrMalformedIntent):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, room.ErrHubClosed), errors.Is(err, actor.ErrStopped):
		Error(w, http.StatusServiceUnavailable, "server is shutting down")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/identity"
	"github.com/velocity-chat/velocity/internal/room"
	"github.com/velocity-chat/velocity/internal/wire"
)

// RegisterRoutes registers the REST routes under /api. live, when non-nil,
// serves the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router, live http.Handler) {
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Post("/auth/login", h.Login)
		r.Get("/rooms", h.ListRooms)
		r.Post("/rooms", h.CreateRoom)
		r.Route("/rooms/{id}", func(r chi.Router) {
			r.Get("/messages", h.GetMessages)
			r.Post("/messages", h.PostMessage)
			r.Get("/presence", h.GetPresence)
			r.Post("/presence", h.PostPresence)
			if live != nil {
				r.Handle("/ws", live)
			}
		})
	})
}

// Login derives the user from the email and stores it.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req wire.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	user, err := h.dir.Login(r.Context(), req.Email)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, user)
}

// ListRooms returns the room directory.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.dir.ListRooms(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, rooms)
}

// CreateRoom adds a room to the directory.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req wire.CreateRoomRequest
	if !decode(w, r, &req) {
		return
	}
	rm, err := h.dir.CreateRoom(r.Context(), req.Name, req.Type)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, rm)
}

// GetMessages returns the room's recent history, oldest first.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	var msgs []domain.Message
	err := h.hub.With(chi.URLParam(r, "id"), func(a *room.Actor) error {
		var err error
		msgs, err = a.Messages(r.Context())
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, msgs)
}

// PostMessage appends a message on behalf of a polling client and
// broadcasts it to live sessions.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req wire.PostMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SenderID == "" {
		req.SenderID = identity.UserIDFromContext(r.Context())
		if req.SenderName == "" {
			req.SenderName = identity.UsernameFromContext(r.Context())
		}
	}
	if req.SenderID == "" {
		Error(w, http.StatusBadRequest, "senderId is required")
		return
	}
	if req.SenderName == "" {
		req.SenderName = req.SenderID
	}

	var msg domain.Message
	err := h.hub.With(chi.URLParam(r, "id"), func(a *room.Actor) error {
		var err error
		msg, err = a.Post(r.Context(), req.SenderID, req.SenderName, req.Content, req.Type)
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, msg)
}

// GetPresence returns who is online and typing.
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	var p domain.Presence
	err := h.hub.With(chi.URLParam(r, "id"), func(a *room.Actor) error {
		var err error
		p, err = a.Presence(r.Context())
		return err
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// PostPresence refreshes the caller's presence record.
func (h *Handler) PostPresence(w http.ResponseWriter, r *http.Request) {
	var req wire.PresenceRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		req.UserID = identity.UserIDFromContext(r.Context())
		if req.UserName == "" {
			req.UserName = identity.UsernameFromContext(r.Context())
		}
	}
	if req.UserID == "" {
		Error(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.UserName == "" {
		req.UserName = req.UserID
	}

	err := h.hub.With(chi.URLParam(r, "id"), func(a *room.Actor) error {
		return a.ReportPresence(r.Context(), req.UserID, req.UserName, req.IsTyping)
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, nil)
}

// Health reports store reachability and live load.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stats := h.hub.Stats()
	status, code := "ok", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("Store health check failed", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}

	body := map[string]interface{}{
		"status":           status,
		"rooms":            stats.Rooms,
		"sessions":         stats.Sessions,
		"live_connections": h.liveCount(),
	}
	if code != http.StatusOK {
		write(w, code, wire.Envelope{Success: false, Data: body, Error: "store unavailable"})
		return
	}
	JSON(w, code, body)
}

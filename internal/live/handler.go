// Package live serves the push transport: one websocket per room session,
// bridged to the room actor.
package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/velocity-chat/velocity/internal/actor"
	"github.com/velocity-chat/velocity/internal/identity"
	"github.com/velocity-chat/velocity/internal/room"
	"github.com/velocity-chat/velocity/internal/wire"
)

const disconnectTimeout = 5 * time.Second

// Options configures the live handler.
type Options struct {
	AllowedOrigins []string
	SendBuffer     int
	WriteTimeout   time.Duration
	RateLimit      float64
	RateBurst      int
	Logger         *slog.Logger
}

// Handler upgrades GET /rooms/{id}/ws requests to live sessions.
type Handler struct {
	hub     *room.Hub
	tracker *Tracker
	opts    Options
	logger  *slog.Logger
}

// NewHandler creates a live handler.
func NewHandler(hub *room.Hub, tracker *Tracker, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	return &Handler{hub: hub, tracker: tracker, opts: opts, logger: logger}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID, userName := identity.FromRequest(r)
	logger := h.logger.With("room_id", roomID, "user_id", userID)
	logger.Info("WebSocket connection request", "ip", identity.IPFromRequest(r))

	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if _, err := h.hub.Room(roomID); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, room.ErrHubClosed) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writer := NewSessionWriter(ws, h.opts.SendBuffer, h.opts.WriteTimeout, cancel, logger)
	defer writer.Close()

	session := room.NewSession(userID, userName, roomID, writer)
	logger = logger.With("session_id", session.ID)

	h.tracker.Register(session.ID, userID, roomID, ws)
	defer h.tracker.Unregister(session.ID, ws)
	logger.Info("Live session started", "room_connections", h.tracker.CountRoom(roomID))

	var owner *room.Actor
	if err := h.hub.With(roomID, func(a *room.Actor) error {
		owner = a
		return a.Connect(ctx, session)
	}); err != nil {
		logger.Error("Failed to open session", "error", err)
		return
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer dcancel()
		if err := owner.Disconnect(dctx, session); err != nil {
			logger.Warn("Failed to close session", "error", err)
		}
	}()

	h.readLoop(ctx, ws, owner, session, logger)
	st := writer.Stats()
	logger.Info("Live session ended", "frames_sent", st.Sent, "frames_dropped", st.Dropped)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, owner *room.Actor, s *room.Session, logger *slog.Logger) {
	limiter := rate.NewLimiter(rate.Limit(h.opts.RateLimit), h.opts.RateBurst)
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				logger.Debug("WebSocket closed", "error", err)
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Warn("Dropping non-text frame")
			continue
		}
		if !limiter.Allow() {
			logger.Warn("Rate limit exceeded, dropping intent")
			continue
		}

		in, err := wire.DecodeIntent(data)
		if err != nil {
			logger.Warn("Dropping malformed intent", "error", err)
			continue
		}
		if err := owner.HandleIntent(ctx, s, in); err != nil {
			if errors.Is(err, actor.ErrStopped) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to handle intent", "type", in.Type, "error", err)
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigins)
	return false
}

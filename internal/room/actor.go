// Package room implements the per-room synchronization engine: a bounded
// message log, a presence table with lazy expiry, the set of live sessions,
// and broadcast fan-out, all owned by a single serial actor per room.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/velocity-chat/velocity/internal/actor"
	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/registry"
	"github.com/velocity-chat/velocity/internal/store"
	"github.com/velocity-chat/velocity/internal/wire"
)

// Directory is the part of the registry a room needs.
type Directory interface {
	UserLookup
	TouchRoom(ctx context.Context, roomID, preview string) error
}

// Actor owns one room's state. Every exported method runs on the actor's
// mailbox, so mutations never interleave.
type Actor struct {
	id     string
	loop   *actor.Loop
	store  store.Store
	dir    Directory
	logger *slog.Logger
	now    func() time.Time

	liveSessions atomic.Int32

	// Owned by loop.
	loaded     bool
	ring       *Ring
	presence   *Tracker
	sessions   map[string]*Session
	order      []string
	lastActive time.Time
}

func newActor(id string, st store.Store, dir Directory, cfg hubConfig) *Actor {
	logger := cfg.logger.With("room_id", id)
	return &Actor{
		id:         id,
		loop:       actor.NewLoop(cfg.mailboxSize),
		store:      st,
		dir:        dir,
		logger:     logger,
		now:        cfg.now,
		ring:       NewRing(RingCapacity, cfg.now),
		presence:   NewTracker(id, st, dir, cfg.now, logger),
		sessions:   make(map[string]*Session),
		lastActive: cfg.now(),
	}
}

// ID returns the room id.
func (a *Actor) ID() string { return a.id }

// SessionCount returns the number of open sessions.
func (a *Actor) SessionCount() int {
	return int(a.liveSessions.Load())
}

// exec runs fn on the loop after hydrating the room from the store.
func (a *Actor) exec(ctx context.Context, fn func() error) error {
	var opErr error
	if err := a.loop.Do(ctx, func() {
		a.lastActive = a.now()
		if opErr = a.ensureLoaded(ctx); opErr != nil {
			return
		}
		opErr = fn()
	}); err != nil {
		return err
	}
	return opErr
}

func (a *Actor) ensureLoaded(ctx context.Context) error {
	if a.loaded {
		return nil
	}
	var msgs []domain.Message
	if _, err := store.GetJSON(ctx, a.store, store.MessagesKey(a.id), &msgs); err != nil {
		return fmt.Errorf("load messages for %s: %w", a.id, err)
	}
	if err := a.presence.Load(ctx); err != nil {
		return err
	}
	a.ring.Reset(msgs)
	a.loaded = true
	a.logger.Debug("Room hydrated", "messages", a.ring.Len())
	return nil
}

// Connect registers s and opens it.
func (a *Actor) Connect(ctx context.Context, s *Session) error {
	return a.exec(ctx, func() error {
		if s.State() != SessionConnecting {
			return ErrSessionClosed
		}
		a.sessions[s.ID] = s
		a.order = append(a.order, s.ID)
		s.setState(SessionOpen)
		a.liveSessions.Store(int32(len(a.sessions)))
		a.logger.Info("Session opened", "session_id", s.ID, "user_id", s.UserID, "sessions", len(a.sessions))
		return nil
	})
}

// Disconnect removes s from the live set and closes it. Presence is left
// to expire on its own.
func (a *Actor) Disconnect(ctx context.Context, s *Session) error {
	err := a.loop.Do(ctx, func() {
		a.lastActive = a.now()
		if _, ok := a.sessions[s.ID]; !ok {
			s.setState(SessionClosed)
			return
		}
		delete(a.sessions, s.ID)
		for i, id := range a.order {
			if id == s.ID {
				a.order = append(a.order[:i:i], a.order[i+1:]...)
				break
			}
		}
		s.setState(SessionClosed)
		a.liveSessions.Store(int32(len(a.sessions)))
		a.logger.Info("Session closed", "session_id", s.ID, "user_id", s.UserID, "sessions", len(a.sessions))
	})
	if errors.Is(err, actor.ErrStopped) {
		// A stopped actor already dropped its sessions.
		s.setState(SessionClosed)
		return nil
	}
	return err
}

// HandleIntent dispatches one client intent from s. Malformed intents are
// logged and dropped; only persistence failures are returned.
func (a *Actor) HandleIntent(ctx context.Context, s *Session, in wire.Intent) error {
	if err := in.Validate(a.id); err != nil {
		a.logger.Warn("Dropping malformed intent", "session_id", s.ID, "user_id", s.UserID, "error", err)
		return nil
	}
	return a.exec(ctx, func() error {
		if _, ok := a.sessions[s.ID]; !ok {
			a.logger.Warn("Dropping intent from unregistered session", "session_id", s.ID)
			return nil
		}
		switch in.Type {
		case wire.IntentChat:
			_, err := a.post(ctx, s.UserID, s.UserName, in.Content, domain.MessageText)
			return err
		case wire.IntentTyping:
			return a.reportPresence(ctx, s.UserID, s.UserName, true)
		}
		return nil
	})
}

// Post appends a message from a non-live client and broadcasts it.
func (a *Actor) Post(ctx context.Context, senderID, senderName, content string, typ domain.MessageType) (domain.Message, error) {
	var msg domain.Message
	err := a.exec(ctx, func() error {
		var err error
		msg, err = a.post(ctx, senderID, senderName, content, typ)
		return err
	})
	if err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// Messages returns the stored history, oldest first.
func (a *Actor) Messages(ctx context.Context) ([]domain.Message, error) {
	var msgs []domain.Message
	err := a.exec(ctx, func() error {
		msgs = a.ring.List()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// ReportPresence refreshes a user's presence and broadcasts the snapshot.
func (a *Actor) ReportPresence(ctx context.Context, userID, userName string, isTyping bool) error {
	return a.exec(ctx, func() error {
		return a.reportPresence(ctx, userID, userName, isTyping)
	})
}

// Presence returns the current snapshot, sweeping expired records.
func (a *Actor) Presence(ctx context.Context) (domain.Presence, error) {
	var p domain.Presence
	err := a.exec(ctx, func() error {
		var err error
		p, err = a.presence.Query(ctx)
		return err
	})
	if err != nil {
		return domain.Presence{}, err
	}
	return p, nil
}

// Broadcast sends ev to every open session.
func (a *Actor) Broadcast(ctx context.Context, ev wire.Event) error {
	return a.exec(ctx, func() error {
		return a.broadcast(ev)
	})
}

func (a *Actor) post(ctx context.Context, senderID, senderName, content string, typ domain.MessageType) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, fmt.Errorf("%w: empty content", wire.ErrMalformedIntent)
	}
	if typ == "" {
		typ = domain.MessageText
	}
	if !typ.Valid() {
		return domain.Message{}, fmt.Errorf("%w: unknown message type %q", wire.ErrMalformedIntent, typ)
	}

	prev := a.ring.List()
	msg := a.ring.Append(domain.Message{
		RoomID:     a.id,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Type:       typ,
	})
	if err := store.PutJSON(ctx, a.store, store.MessagesKey(a.id), a.ring.List()); err != nil {
		a.ring.Reset(prev)
		return domain.Message{}, fmt.Errorf("store messages for %s: %w", a.id, err)
	}

	if a.dir != nil {
		if err := a.dir.TouchRoom(ctx, a.id, content); err != nil && !errors.Is(err, registry.ErrRoomNotFound) {
			a.logger.Warn("Failed to update room preview", "error", err)
		}
	}

	a.logger.Debug("Message stored", "message_id", msg.ID, "user_id", senderID)
	return msg, a.broadcast(wire.MessageEvent(msg))
}

func (a *Actor) reportPresence(ctx context.Context, userID, userName string, isTyping bool) error {
	if err := a.presence.Update(ctx, userID, userName, isTyping); err != nil {
		return err
	}
	p, err := a.presence.Query(ctx)
	if err != nil {
		return err
	}
	return a.broadcast(wire.PresenceEvent(p))
}

// broadcast serializes ev once and writes it to each open session. A
// failed write is logged and does not stop delivery to the rest.
func (a *Actor) broadcast(ev wire.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	delivered := 0
	for _, id := range a.order {
		s := a.sessions[id]
		if err := s.send(data); err != nil {
			a.logger.Warn("Broadcast write failed", "session_id", s.ID, "user_id", s.UserID, "event", ev.Type, "error", err)
			continue
		}
		delivered++
	}
	a.logger.Debug("Broadcast", "event", ev.Type, "delivered", delivered, "sessions", len(a.order))
	return nil
}

// retireIfIdle runs on the loop. With no open sessions and no activity for
// idle, it calls detach and stops the loop.
func (a *Actor) retireIfIdle(idle time.Duration, detach func()) {
	if len(a.sessions) > 0 || a.now().Sub(a.lastActive) < idle {
		return
	}
	detach()
	a.logger.Info("Room retired", "idle", a.now().Sub(a.lastActive).Round(time.Second))
	a.loop.Stop()
}

// stop closes every session and halts the loop.
func (a *Actor) stop(ctx context.Context) {
	err := a.loop.Do(ctx, func() {
		for _, id := range a.order {
			s := a.sessions[id]
			s.setState(SessionClosed)
			s.conn.Close()
		}
		a.sessions = make(map[string]*Session)
		a.order = nil
		a.liveSessions.Store(0)
		a.loop.Stop()
	})
	if err != nil && !errors.Is(err, actor.ErrStopped) {
		a.logger.Warn("Room stopped without closing sessions", "sessions", a.SessionCount(), "error", err)
	}
	a.loop.Stop()
	a.loop.Wait()
}

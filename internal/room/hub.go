package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/velocity-chat/velocity/internal/actor"
	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/store"
)

// ErrHubClosed is returned once Shutdown has been called.
var ErrHubClosed = errors.New("room hub closed")

const (
	defaultIdleTimeout      = 10 * time.Minute
	defaultEvictionInterval = time.Minute
	defaultMailboxSize      = 256
	shutdownTimeout         = 5 * time.Second
)

type hubConfig struct {
	idleTimeout      time.Duration
	evictionInterval time.Duration
	mailboxSize      int
	logger           *slog.Logger
	now              func() time.Time
}

// Option configures a Hub.
type Option func(*hubConfig)

// WithIdleTimeout sets how long a room without sessions stays resident.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *hubConfig) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithEvictionInterval sets the janitor period.
func WithEvictionInterval(d time.Duration) Option {
	return func(c *hubConfig) {
		if d > 0 {
			c.evictionInterval = d
		}
	}
}

// WithMailboxSize sets each room actor's mailbox capacity.
func WithMailboxSize(n int) Option {
	return func(c *hubConfig) {
		if n > 0 {
			c.mailboxSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *hubConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *hubConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
}

// Hub lazily creates one Actor per room and retires idle ones. A retired
// room is rehydrated from the store on next use.
type Hub struct {
	store store.Store
	dir   Directory
	cfg   hubConfig

	mu     sync.Mutex
	rooms  map[string]*Actor
	closed bool
}

// NewHub creates a hub. Call Run to enable idle eviction.
func NewHub(st store.Store, dir Directory, opts ...Option) *Hub {
	cfg := hubConfig{
		idleTimeout:      defaultIdleTimeout,
		evictionInterval: defaultEvictionInterval,
		mailboxSize:      defaultMailboxSize,
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Hub{
		store: st,
		dir:   dir,
		cfg:   cfg,
		rooms: make(map[string]*Actor),
	}
}

// Room returns the actor for roomID, starting it if needed.
func (h *Hub) Room(roomID string) (*Actor, error) {
	if err := domain.ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if a, ok := h.rooms[roomID]; ok {
		return a, nil
	}
	a := newActor(roomID, h.store, h.dir, h.cfg)
	h.rooms[roomID] = a
	h.cfg.logger.Info("Room actor started", "room_id", roomID)
	return a, nil
}

// With runs fn against the room's actor. If the actor retires while fn is
// queued, fn is retried once on a fresh actor.
func (h *Hub) With(roomID string, fn func(*Actor) error) error {
	for attempt := 0; ; attempt++ {
		a, err := h.Room(roomID)
		if err != nil {
			return err
		}
		err = fn(a)
		if errors.Is(err, actor.ErrStopped) && attempt == 0 {
			continue
		}
		return err
	}
}

// Run evicts idle rooms until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.Lock()
	actors := make([]*Actor, 0, len(h.rooms))
	for _, a := range h.rooms {
		actors = append(actors, a)
	}
	h.mu.Unlock()

	for _, a := range actors {
		err := a.loop.TryDo(func() {
			a.retireIfIdle(h.cfg.idleTimeout, func() { h.detach(a) })
		})
		if err != nil && !errors.Is(err, actor.ErrStopped) {
			h.cfg.logger.Debug("Skipping busy room during sweep", "room_id", a.id, "error", err)
		}
	}
}

func (h *Hub) detach(a *Actor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[a.id] == a {
		delete(h.rooms, a.id)
	}
}

// Stats reports resident rooms and open sessions.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{Rooms: len(h.rooms)}
	for _, a := range h.rooms {
		st.Sessions += a.SessionCount()
	}
	return st
}

// Shutdown closes every session and stops every room actor.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	actors := h.rooms
	h.rooms = make(map[string]*Actor)
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *Actor) {
			defer wg.Done()
			a.stop(ctx)
		}(a)
	}
	wg.Wait()
	h.cfg.logger.Info("Room hub stopped", "rooms", len(actors))
}

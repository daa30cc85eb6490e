package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
)

// Mode selects the sync strategy.
type Mode string

const (
	ModePush Mode = "push"
	ModePull Mode = "pull"
)

// Options configures a Client.
type Options struct {
	ServerURL        string
	Mode             Mode
	ReconnectDelay   time.Duration
	MessageInterval  time.Duration
	PresenceInterval time.Duration
	HTTPClient       *http.Client
	Dialer           Dialer
	Logger           *slog.Logger
}

// Client ties the state store, API, sync strategy and optimistic queue
// together. Exactly one strategy is active at a time.
type Client struct {
	api    API
	store  *Store
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	strategy   Strategy
	optimistic *Optimistic
}

// New creates a client talking HTTP to opts.ServerURL.
func New(opts Options) (*Client, error) {
	return NewWithAPI(NewHTTPClient(opts.ServerURL, opts.HTTPClient), opts)
}

// NewWithAPI creates a client over an existing API implementation.
func NewWithAPI(api API, opts Options) (*Client, error) {
	if opts.Mode == "" {
		opts.Mode = ModePush
	}
	if opts.Mode != ModePush && opts.Mode != ModePull {
		return nil, fmt.Errorf("unknown sync mode %q", opts.Mode)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{HTTPClient: opts.HTTPClient}
	}
	c := &Client{api: api, store: NewStore(), opts: opts, logger: opts.Logger}
	c.resetStrategy()
	return c, nil
}

func (c *Client) newStrategy() Strategy {
	if c.opts.Mode == ModePull {
		return NewPullStrategy(c.api, c.store, PullOptions{
			MessageInterval:  c.opts.MessageInterval,
			PresenceInterval: c.opts.PresenceInterval,
			Logger:           c.logger,
		})
	}
	return NewPushStrategy(c.api, c.store, PushOptions{
		ServerURL:      c.opts.ServerURL,
		ReconnectDelay: c.opts.ReconnectDelay,
		Dialer:         c.opts.Dialer,
		Logger:         c.logger,
	})
}

func (c *Client) resetStrategy() {
	s := c.newStrategy()
	c.mu.Lock()
	c.strategy = s
	c.optimistic = NewOptimistic(c.store, s)
	c.mu.Unlock()
}

func (c *Client) current() (Strategy, *Optimistic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strategy, c.optimistic
}

// Store exposes the state store for rendering and subscriptions.
func (c *Client) Store() *Store { return c.store }

// Login authenticates by email and loads the room directory.
func (c *Client) Login(ctx context.Context, email string) (domain.User, error) {
	u, err := c.api.Login(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	c.store.Dispatch(SetUser(u))
	if err := c.SyncRooms(ctx); err != nil {
		return u, err
	}
	return u, nil
}

// Logout closes the live session without reconnecting and clears state.
func (c *Client) Logout() error {
	s, _ := c.current()
	err := s.Close()
	c.store.Dispatch(ClearUser())
	c.resetStrategy()
	return err
}

// SyncRooms refreshes the room directory.
func (c *Client) SyncRooms(ctx context.Context) error {
	rooms, err := c.api.ListRooms(ctx)
	if err != nil {
		return err
	}
	c.store.Dispatch(SetRooms(rooms))
	return nil
}

// CreateRoom creates a room and refreshes the directory.
func (c *Client) CreateRoom(ctx context.Context, name string, typ domain.RoomType) (domain.Room, error) {
	rm, err := c.api.CreateRoom(ctx, name, typ)
	if err != nil {
		return domain.Room{}, err
	}
	if err := c.SyncRooms(ctx); err != nil {
		c.logger.Warn("Room list refresh failed", "error", err)
	}
	return rm, nil
}

// SelectRoom switches the active room.
func (c *Client) SelectRoom(ctx context.Context, roomID string) error {
	if c.store.State().User == nil {
		return ErrNotLoggedIn
	}
	s, _ := c.current()
	return s.SelectRoom(ctx, roomID)
}

// Send posts content to the active room optimistically.
func (c *Client) Send(ctx context.Context, content string) (domain.Message, error) {
	roomID := c.store.State().ActiveRoom
	if roomID == "" {
		return domain.Message{}, ErrNoActiveRoom
	}
	_, o := c.current()
	return o.Send(ctx, roomID, content)
}

// Typing reports that the user is typing in the active room.
func (c *Client) Typing(ctx context.Context) error {
	roomID := c.store.State().ActiveRoom
	if roomID == "" {
		return ErrNoActiveRoom
	}
	s, _ := c.current()
	return s.ReportTyping(ctx, roomID)
}

// Close stops the active strategy.
func (c *Client) Close() error {
	s, _ := c.current()
	return s.Close()
}

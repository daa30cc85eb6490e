package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/wire"
)

// fakeAPI serves canned data and records calls.
type fakeAPI struct {
	mu            sync.Mutex
	messages      map[string][]domain.Message
	presence      map[string]domain.Presence
	messageCalls  int
	presenceCalls int
	posted        []wire.PostMessageRequest
	typing        []wire.PresenceRequest
	failFetch     bool
	postErr       error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messages: make(map[string][]domain.Message),
		presence: make(map[string]domain.Presence),
	}
}

var errFakeDown = errors.New("server unavailable")

func (f *fakeAPI) Login(_ context.Context, email string) (domain.User, error) {
	return domain.User{ID: "u_" + email, Name: email, Email: email, Status: domain.StatusOnline}, nil
}

func (f *fakeAPI) ListRooms(context.Context) ([]domain.Room, error) {
	return []domain.Room{{ID: "general", Name: "General Lounge", Type: domain.RoomPublic}}, nil
}

func (f *fakeAPI) CreateRoom(_ context.Context, name string, typ domain.RoomType) (domain.Room, error) {
	return domain.Room{ID: "r_" + name, Name: name, Type: typ}, nil
}

func (f *fakeAPI) Messages(_ context.Context, roomID string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls++
	if f.failFetch {
		return nil, errFakeDown
	}
	return append([]domain.Message(nil), f.messages[roomID]...), nil
}

func (f *fakeAPI) PostMessage(_ context.Context, roomID string, req wire.PostMessageRequest) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return domain.Message{}, f.postErr
	}
	f.posted = append(f.posted, req)
	m := domain.Message{ID: "m_posted", RoomID: roomID, SenderID: req.SenderID, Content: req.Content, Type: req.Type}
	f.messages[roomID] = append(f.messages[roomID], m)
	return m, nil
}

func (f *fakeAPI) Presence(_ context.Context, roomID string) (domain.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presenceCalls++
	if f.failFetch {
		return domain.Presence{}, errFakeDown
	}
	return f.presence[roomID], nil
}

func (f *fakeAPI) ReportPresence(_ context.Context, _ string, req wire.PresenceRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, req)
	return nil
}

func (f *fakeAPI) setFailFetch(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFetch = fail
}

func (f *fakeAPI) calls() (messages, presence int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messageCalls, f.presenceCalls
}

// fakeConn is a live connection whose inbound side the test drives.
type fakeConn struct {
	url     string
	dialer  *fakeDialer
	events  chan wire.RawEvent
	drop    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	written []wire.Intent
}

func (c *fakeConn) Read(ctx context.Context) (wire.RawEvent, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.drop:
		return wire.RawEvent{}, errors.New("connection dropped")
	case <-ctx.Done():
		return wire.RawEvent{}, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, in wire.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, in)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		c.dialer.closed(c)
		close(c.drop)
	})
	return nil
}

// serverDrop simulates the server closing the connection.
func (c *fakeConn) serverDrop() {
	c.once.Do(func() {
		c.dialer.closed(c)
		close(c.drop)
	})
}

// fakeDialer tracks how many connections are open at once.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	open    int
	maxOpen int
	fail    bool
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail {
		return nil, errFakeDown
	}
	c := &fakeConn{url: url, dialer: d, events: make(chan wire.RawEvent, 16), drop: make(chan struct{})}
	d.conns = append(d.conns, c)
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	return c, nil
}

func (d *fakeDialer) closed(*fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open--
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) stats() (dials, open, maxOpen int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials, d.open, d.maxOpen
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func loggedInStore() *Store {
	s := NewStore()
	s.Dispatch(SetUser(domain.User{ID: "u_alex", Name: "alex"}))
	return s
}

package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/wire"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) events(t *testing.T) []wire.RawEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.RawEvent, 0, len(c.frames))
	for _, f := range c.frames {
		var ev wire.RawEvent
		if err := json.Unmarshal(f, &ev); err != nil {
			t.Fatalf("bad frame %s: %v", f, err)
		}
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDirectory records previews and serves a fixed user table.
type fakeDirectory struct {
	mu       sync.Mutex
	users    map[string]domain.User
	previews map[string]string
}

func newFakeDirectory(users ...domain.User) *fakeDirectory {
	d := &fakeDirectory{users: make(map[string]domain.User), previews: make(map[string]string)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeDirectory) User(_ context.Context, id string) (domain.User, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	return u, ok, nil
}

func (d *fakeDirectory) TouchRoom(_ context.Context, roomID, preview string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previews[roomID] = preview
	return nil
}

func (d *fakeDirectory) preview(roomID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.previews[roomID]
}

var errWriteFailed = errors.New("write failed")

func decodeMessage(t *testing.T, ev wire.RawEvent) domain.Message {
	t.Helper()
	var m domain.Message
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return m
}

func decodePresence(t *testing.T, ev wire.RawEvent) domain.Presence {
	t.Helper()
	var p domain.Presence
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	return p
}

package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/identity"
	"github.com/velocity-chat/velocity/internal/wire"
)

// Strategy keeps the local room, message and presence state fresh. Push
// and pull implementations converge on the same State shape.
type Strategy interface {
	SelectRoom(ctx context.Context, roomID string) error
	SendMessage(ctx context.Context, roomID, content string) error
	ReportTyping(ctx context.Context, roomID string) error
	Close() error
}

// Conn is one live room connection.
type Conn interface {
	Read(ctx context.Context) (wire.RawEvent, error)
	Write(ctx context.Context, in wire.Intent) error
	Close() error
}

// Dialer opens live room connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials with coder/websocket.
type WSDialer struct {
	HTTPClient *http.Client
}

func (d WSDialer) Dial(ctx context.Context, u string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (wire.RawEvent, error) {
	var ev wire.RawEvent
	err := wsjson.Read(ctx, w.c, &ev)
	return ev, err
}

func (w *wsConn) Write(ctx context.Context, in wire.Intent) error {
	return wsjson.Write(ctx, w.c, in)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "client closed")
}

// liveURL maps an http(s) base to the room's ws(s) endpoint.
func liveURL(base, roomID string, u domain.User) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	q := url.Values{}
	q.Set(identity.UserIDParam, u.ID)
	q.Set(identity.UserNameParam, u.Name)
	return base + "/api/rooms/" + url.PathEscape(roomID) + "/ws?" + q.Encode()
}

func currentUser(store *Store) (domain.User, error) {
	st := store.State()
	if st.User == nil {
		return domain.User{}, ErrNotLoggedIn
	}
	return *st.User, nil
}

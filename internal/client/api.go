// Package client implements the Velocity client core: the REST API client,
// an immutable application state with named actions, push and pull sync
// strategies, and the optimistic send queue.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/wire"
)

var (
	ErrNotConnected = errors.New("not connected to room")
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrClosed       = errors.New("client closed")
	ErrNoActiveRoom = errors.New("no active room")
)

// APIError is a failure envelope returned by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// API is the REST surface of the server.
type API interface {
	Login(ctx context.Context, email string) (domain.User, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	CreateRoom(ctx context.Context, name string, typ domain.RoomType) (domain.Room, error)
	Messages(ctx context.Context, roomID string) ([]domain.Message, error)
	PostMessage(ctx context.Context, roomID string, req wire.PostMessageRequest) (domain.Message, error)
	Presence(ctx context.Context, roomID string) (domain.Presence, error)
	ReportPresence(ctx context.Context, roomID string, req wire.PresenceRequest) error
}

// HTTPClient talks to the server's /api routes.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates an API client for baseURL, e.g. http://localhost:8080.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *HTTPClient) Login(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := c.do(ctx, http.MethodPost, "/api/auth/login", wire.LoginRequest{Email: email}, &u)
	return u, err
}

func (c *HTTPClient) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var rooms []domain.Room
	err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &rooms)
	return rooms, err
}

func (c *HTTPClient) CreateRoom(ctx context.Context, name string, typ domain.RoomType) (domain.Room, error) {
	var rm domain.Room
	err := c.do(ctx, http.MethodPost, "/api/rooms", wire.CreateRoomRequest{Name: name, Type: typ}, &rm)
	return rm, err
}

func (c *HTTPClient) Messages(ctx context.Context, roomID string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := c.do(ctx, http.MethodGet, roomPath(roomID, "messages"), nil, &msgs)
	return msgs, err
}

func (c *HTTPClient) PostMessage(ctx context.Context, roomID string, req wire.PostMessageRequest) (domain.Message, error) {
	var m domain.Message
	err := c.do(ctx, http.MethodPost, roomPath(roomID, "messages"), req, &m)
	return m, err
}

func (c *HTTPClient) Presence(ctx context.Context, roomID string) (domain.Presence, error) {
	var p domain.Presence
	err := c.do(ctx, http.MethodGet, roomPath(roomID, "presence"), nil, &p)
	return p, err
}

func (c *HTTPClient) ReportPresence(ctx context.Context, roomID string, req wire.PresenceRequest) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "presence"), req, nil)
}

func roomPath(roomID, leaf string) string {
	return "/api/rooms/" + url.PathEscape(roomID) + "/" + leaf
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env wire.Response[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s %s: decode response (status %d): %w", method, path, resp.StatusCode, err)
	}
	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}

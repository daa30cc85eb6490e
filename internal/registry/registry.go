// Package registry implements the global directory actor: identity records
// and the room directory. All operations are serialized on one mailbox.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/velocity-chat/velocity/internal/actor"
	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/identity"
	"github.com/velocity-chat/velocity/internal/store"
)

var (
	ErrEmptyEmail      = errors.New("email is required")
	ErrEmptyRoomName   = errors.New("room name is required")
	ErrInvalidRoomType = errors.New("room type must be public or private")
	ErrRoomNotFound    = errors.New("room not found")
)

// DefaultRoom seeds an empty directory.
var DefaultRoom = domain.Room{
	ID:          "general",
	Name:        "General Lounge",
	Type:        domain.RoomPublic,
	UnreadCount: 0,
	LastMessage: "Welcome to Velocity!",
}

const defaultMailboxSize = 64

// Registry owns user records and the room directory.
type Registry struct {
	store  store.Store
	loop   *actor.Loop
	logger *slog.Logger
	newID  func() string

	// Owned by loop.
	rooms  []domain.Room
	loaded bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRoomIDGenerator replaces the room id source.
func WithRoomIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// New starts the registry actor.
func New(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  st,
		logger: slog.Default(),
		newID:  newRoomID,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.loop = actor.NewLoop(defaultMailboxSize)
	return r
}

func newRoomID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Close stops the actor.
func (r *Registry) Close() {
	r.loop.Stop()
	r.loop.Wait()
}

// Login derives the user id from email, upserts the user record and returns it.
func (r *Registry) Login(ctx context.Context, email string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.User{}, ErrEmptyEmail
	}

	id := identity.DeriveUserID(email)
	user := domain.User{
		ID:     id,
		Name:   identity.DisplayName(email),
		Email:  email,
		Avatar: identity.AvatarURL(id),
		Status: domain.StatusOnline,
	}

	var opErr error
	if err := r.loop.Do(ctx, func() {
		opErr = store.PutJSON(ctx, r.store, store.UserKey(id), user)
	}); err != nil {
		return domain.User{}, err
	}
	if opErr != nil {
		return domain.User{}, fmt.Errorf("store user %s: %w", id, opErr)
	}

	r.logger.Info("User logged in", "user_id", id)
	return user, nil
}

// User loads a stored user record.
func (r *Registry) User(ctx context.Context, id string) (domain.User, bool, error) {
	var (
		user  domain.User
		found bool
		opErr error
	)
	if err := r.loop.Do(ctx, func() {
		found, opErr = store.GetJSON(ctx, r.store, store.UserKey(id), &user)
	}); err != nil {
		return domain.User{}, false, err
	}
	if opErr != nil {
		return domain.User{}, false, fmt.Errorf("load user %s: %w", id, opErr)
	}
	return user, found, nil
}

// ListRooms returns the directory, seeding it with DefaultRoom on first use.
func (r *Registry) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var (
		rooms []domain.Room
		opErr error
	)
	if err := r.loop.Do(ctx, func() {
		if opErr = r.ensureLoaded(ctx); opErr != nil {
			return
		}
		rooms = append([]domain.Room(nil), r.rooms...)
	}); err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return rooms, nil
}

// CreateRoom appends a new room with a freshly generated id.
func (r *Registry) CreateRoom(ctx context.Context, name string, typ domain.RoomType) (domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Room{}, ErrEmptyRoomName
	}
	if typ == "" {
		typ = domain.RoomPublic
	}
	if !typ.Valid() {
		return domain.Room{}, ErrInvalidRoomType
	}

	var (
		room  domain.Room
		opErr error
	)
	if err := r.loop.Do(ctx, func() {
		if opErr = r.ensureLoaded(ctx); opErr != nil {
			return
		}
		id := r.newID()
		for r.indexOf(id) >= 0 {
			id = r.newID()
		}
		room = domain.Room{ID: id, Name: name, Type: typ}
		next := append(append([]domain.Room(nil), r.rooms...), room)
		if opErr = r.saveRooms(ctx, next); opErr != nil {
			return
		}
		r.rooms = next
	}); err != nil {
		return domain.Room{}, err
	}
	if opErr != nil {
		return domain.Room{}, opErr
	}

	r.logger.Info("Room created", "room_id", room.ID, "name", room.Name, "type", room.Type)
	return room, nil
}

// TouchRoom records preview as the room's last message.
func (r *Registry) TouchRoom(ctx context.Context, roomID, preview string) error {
	var opErr error
	if err := r.loop.Do(ctx, func() {
		if opErr = r.ensureLoaded(ctx); opErr != nil {
			return
		}
		i := r.indexOf(roomID)
		if i < 0 {
			opErr = fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
			return
		}
		next := append([]domain.Room(nil), r.rooms...)
		next[i].LastMessage = preview
		if opErr = r.saveRooms(ctx, next); opErr != nil {
			return
		}
		r.rooms = next
	}); err != nil {
		return err
	}
	return opErr
}

// ensureLoaded runs on the loop.
func (r *Registry) ensureLoaded(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	var rooms []domain.Room
	found, err := store.GetJSON(ctx, r.store, store.RoomsKey(), &rooms)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	if !found {
		rooms = []domain.Room{DefaultRoom}
		if err := r.saveRooms(ctx, rooms); err != nil {
			return err
		}
		r.logger.Info("Initialized room directory", "room_id", DefaultRoom.ID)
	}
	r.rooms = rooms
	r.loaded = true
	return nil
}

func (r *Registry) saveRooms(ctx context.Context, rooms []domain.Room) error {
	if err := store.PutJSON(ctx, r.store, store.RoomsKey(), rooms); err != nil {
		return fmt.Errorf("store rooms: %w", err)
	}
	return nil
}

func (r *Registry) indexOf(id string) int {
	for i := range r.rooms {
		if r.rooms[i].ID == id {
			return i
		}
	}
	return -1
}

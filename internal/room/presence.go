package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/store"
)

const (
	// PresenceTTL is the age after which a record is swept.
	PresenceTTL = 10 * time.Second
	// TypingTTL bounds how long a typing flag is honored.
	TypingTTL = 4 * time.Second
)

// UserLookup resolves user ids to full identities.
type UserLookup interface {
	User(ctx context.Context, id string) (domain.User, bool, error)
}

// Tracker is the per-room presence table. Records are written through to
// the store and expire lazily when queried. Not safe for concurrent use.
type Tracker struct {
	roomID  string
	store   store.Store
	users   UserLookup
	now     func() time.Time
	logger  *slog.Logger
	records map[string]domain.PresenceRecord
}

// NewTracker creates an empty tracker for roomID.
func NewTracker(roomID string, st store.Store, users UserLookup, now func() time.Time, logger *slog.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		roomID:  roomID,
		store:   st,
		users:   users,
		now:     now,
		logger:  logger,
		records: make(map[string]domain.PresenceRecord),
	}
}

// Load hydrates the table from the store.
func (t *Tracker) Load(ctx context.Context) error {
	entries, err := t.store.List(ctx, store.PresencePrefix(t.roomID))
	if err != nil {
		return fmt.Errorf("list presence for %s: %w", t.roomID, err)
	}
	records := make(map[string]domain.PresenceRecord, len(entries))
	for _, e := range entries {
		var rec domain.PresenceRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			t.logger.Warn("Skipping corrupt presence record", "key", e.Key, "error", err)
			continue
		}
		records[rec.UserID] = rec
	}
	t.records = records
	return nil
}

// Update upserts the user's record with last-active set to now.
func (t *Tracker) Update(ctx context.Context, userID, userName string, isTyping bool) error {
	rec := domain.PresenceRecord{
		RoomID:     t.roomID,
		UserID:     userID,
		UserName:   userName,
		LastActive: t.now().UTC(),
		IsTyping:   isTyping,
	}
	if err := store.PutJSON(ctx, t.store, store.PresenceKey(t.roomID, userID), rec); err != nil {
		return fmt.Errorf("store presence %s/%s: %w", t.roomID, userID, err)
	}
	t.records[userID] = rec
	return nil
}

// Query sweeps expired records and returns the current snapshot. Typing
// holds names of records younger than TypingTTL with the flag set; Online
// holds every surviving record resolved through the user lookup.
func (t *Tracker) Query(ctx context.Context) (domain.Presence, error) {
	now := t.now()

	ids := make([]string, 0, len(t.records))
	for id, rec := range t.records {
		if rec.Age(now) > PresenceTTL {
			if err := t.store.Delete(ctx, store.PresenceKey(t.roomID, id)); err != nil {
				return domain.Presence{}, fmt.Errorf("delete presence %s/%s: %w", t.roomID, id, err)
			}
			delete(t.records, id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	p := domain.Presence{Typing: []string{}, Online: make([]domain.User, 0, len(ids))}
	for _, id := range ids {
		rec := t.records[id]
		if rec.IsTyping && rec.Age(now) < TypingTTL {
			p.Typing = append(p.Typing, rec.UserName)
		}
		p.Online = append(p.Online, t.resolve(ctx, rec))
	}
	return p, nil
}

// resolve falls back to the record's own name when the user is unknown or
// the lookup fails.
func (t *Tracker) resolve(ctx context.Context, rec domain.PresenceRecord) domain.User {
	if t.users != nil {
		u, found, err := t.users.User(ctx, rec.UserID)
		if err != nil {
			t.logger.Warn("User lookup failed", "room_id", t.roomID, "user_id", rec.UserID, "error", err)
		}
		if found {
			u.Status = domain.StatusOnline
			return u
		}
	}
	return domain.User{ID: rec.UserID, Name: rec.UserName, Status: domain.StatusOnline}
}

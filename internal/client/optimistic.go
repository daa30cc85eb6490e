package client

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
)

// Sender delivers a message to the server.
type Sender interface {
	SendMessage(ctx context.Context, roomID, content string) error
}

// Optimistic applies a provisional message locally before sending it and
// compensates if the send fails.
type Optimistic struct {
	store  *Store
	sender Sender
	now    func() time.Time
	seq    atomic.Uint64
}

// NewOptimistic creates a queue over store that sends through sender.
func NewOptimistic(store *Store, sender Sender) *Optimistic {
	return &Optimistic{store: store, sender: sender, now: time.Now}
}

// Send appends a provisional message to roomID and sends content. On
// failure the room's list is rolled back and the error returned. The
// confirmed message arrives through the sync strategy.
func (o *Optimistic) Send(ctx context.Context, roomID, content string) (domain.Message, error) {
	st := o.store.State()
	if st.User == nil {
		return domain.Message{}, ErrNotLoggedIn
	}

	now := o.now()
	temp := domain.Message{
		ID:         TempIDPrefix + strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(o.seq.Add(1), 10),
		RoomID:     roomID,
		SenderID:   st.User.ID,
		SenderName: st.User.Name,
		Content:    content,
		CreatedAt:  now,
		Type:       domain.MessageText,
	}

	var snapshot []domain.Message
	o.store.Dispatch(func(s State) State {
		snapshot = s.RoomMessages(roomID)
		return AppendMessage(roomID, temp)(s)
	})

	if err := o.sender.SendMessage(ctx, roomID, content); err != nil {
		o.store.Dispatch(rollback(roomID, snapshot, temp.ID))
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}
	return temp, nil
}

// rollback restores snapshot when the list is still exactly snapshot plus
// the provisional entry. If other messages arrived meanwhile, only the
// provisional entry is removed so they are kept.
func rollback(roomID string, snapshot []domain.Message, tempID string) Action {
	return func(s State) State {
		cur := s.Messages[roomID]
		if len(cur) == len(snapshot)+1 && cur[len(cur)-1].ID == tempID && sameIDs(cur[:len(snapshot)], snapshot) {
			return RestoreMessages(roomID, snapshot)(s)
		}
		return RemoveMessage(roomID, tempID)(s)
	}
}

func sameIDs(a, b []domain.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

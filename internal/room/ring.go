package room

import (
	"time"

	"github.com/google/uuid"

	"github.com/velocity-chat/velocity/internal/domain"
)

// RingCapacity is the number of recent messages kept per room.
const RingCapacity = 100

// Ring is a bounded, oldest-first message log. It is not safe for
// concurrent use; the owning Actor serializes access.
type Ring struct {
	capacity int
	msgs     []domain.Message
	now      func() time.Time
	newID    func() string
}

// NewRing creates a ring holding at most capacity messages.
func NewRing(capacity int, now func() time.Time) *Ring {
	if capacity <= 0 {
		capacity = RingCapacity
	}
	if now == nil {
		now = time.Now
	}
	return &Ring{
		capacity: capacity,
		now:      now,
		newID:    newMessageID,
	}
}

func newMessageID() string {
	return "m_" + uuid.NewString()
}

// Append stores m with a server-assigned id and timestamp and evicts the
// oldest entries beyond capacity. Any client-supplied id or time is ignored.
func (r *Ring) Append(m domain.Message) domain.Message {
	m.ID = r.newID()
	m.CreatedAt = r.now().UTC()
	if m.Type == "" {
		m.Type = domain.MessageText
	}
	r.msgs = append(r.msgs, m)
	r.trim()
	return m
}

// List returns a copy of the stored messages, oldest first.
func (r *Ring) List() []domain.Message {
	return append([]domain.Message(nil), r.msgs...)
}

// Len returns the number of stored messages.
func (r *Ring) Len() int {
	return len(r.msgs)
}

// Reset replaces the contents, keeping only the newest capacity entries.
func (r *Ring) Reset(msgs []domain.Message) {
	r.msgs = append([]domain.Message(nil), msgs...)
	r.trim()
}

func (r *Ring) trim() {
	if over := len(r.msgs) - r.capacity; over > 0 {
		// Copy so the evicted prefix can be collected.
		r.msgs = append([]domain.Message(nil), r.msgs[over:]...)
	}
}

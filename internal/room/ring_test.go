package room

import (
	"strconv"
	"testing"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
)

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()
	r := NewRing(RingCapacity, nil)
	for i := 0; i < RingCapacity; i++ {
		r.Append(domain.Message{Content: strconv.Itoa(i)})
	}
	if r.Len() != RingCapacity {
		t.Fatalf("Len = %d, want %d", r.Len(), RingCapacity)
	}
	oldest := r.List()[0].ID

	r.Append(domain.Message{Content: "overflow"})

	msgs := r.List()
	if len(msgs) != RingCapacity {
		t.Fatalf("Len after overflow = %d, want %d", len(msgs), RingCapacity)
	}
	for _, m := range msgs {
		if m.ID == oldest {
			t.Fatalf("oldest message %s still present", oldest)
		}
	}
	if msgs[0].Content != "1" || msgs[len(msgs)-1].Content != "overflow" {
		t.Errorf("order = %q..%q, want 1..overflow", msgs[0].Content, msgs[len(msgs)-1].Content)
	}
}

func TestRingAssignsServerFields(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	r := NewRing(3, clock.Now)

	stale := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	a := r.Append(domain.Message{ID: "client-id", CreatedAt: stale, Content: "a"})
	b := r.Append(domain.Message{ID: "client-id", Content: "b"})

	if a.ID == "client-id" || a.ID == b.ID {
		t.Errorf("ids not server generated: %q, %q", a.ID, b.ID)
	}
	if !a.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want server time %v", a.CreatedAt, clock.Now())
	}
	if a.Type != domain.MessageText {
		t.Errorf("Type = %q, want text", a.Type)
	}
}

func TestRingResetTrims(t *testing.T) {
	t.Parallel()
	r := NewRing(2, nil)
	r.Reset([]domain.Message{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	msgs := r.List()
	if len(msgs) != 2 || msgs[0].ID != "2" {
		t.Errorf("Reset kept %+v, want [2 3]", msgs)
	}
}

package client

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/velocity-chat/velocity/internal/domain"
)

type senderFunc func(ctx context.Context, roomID, content string) error

func (f senderFunc) SendMessage(ctx context.Context, roomID, content string) error {
	return f(ctx, roomID, content)
}

func seededStore() *Store {
	s := loggedInStore()
	s.Dispatch(ReplaceMessages("general", []domain.Message{
		{ID: "m_1", Content: "one"},
		{ID: "m_2", Content: "two"},
	}))
	return s
}

func TestOptimisticFailureRestoresSnapshot(t *testing.T) {
	t.Parallel()
	s := seededStore()
	before := s.State().RoomMessages("general")

	var during []domain.Message
	o := NewOptimistic(s, senderFunc(func(context.Context, string, string) error {
		during = s.State().RoomMessages("general")
		return errFakeDown
	}))

	_, err := o.Send(context.Background(), "general", "hello")
	if !errors.Is(err, errFakeDown) {
		t.Fatalf("Send error = %v, want errFakeDown", err)
	}
	if len(during) != 3 || during[2].Content != "hello" || !IsProvisional(during[2]) {
		t.Fatalf("provisional not applied before send: %+v", during)
	}
	if after := s.State().RoomMessages("general"); !reflect.DeepEqual(after, before) {
		t.Errorf("after rollback = %+v, want %+v", after, before)
	}
}

func TestOptimisticFailureKeepsConcurrentArrivals(t *testing.T) {
	t.Parallel()
	s := seededStore()
	o := NewOptimistic(s, senderFunc(func(context.Context, string, string) error {
		s.Dispatch(AppendMessage("general", domain.Message{ID: "m_3", SenderID: "u_sam", Content: "meanwhile"}))
		return errFakeDown
	}))

	if _, err := o.Send(context.Background(), "general", "hello"); err == nil {
		t.Fatal("expected error")
	}
	msgs := s.State().RoomMessages("general")
	if len(msgs) != 3 || msgs[2].ID != "m_3" {
		t.Errorf("messages = %+v, want seeded plus m_3", msgs)
	}
}

func TestOptimisticSuccessKeepsProvisional(t *testing.T) {
	t.Parallel()
	s := seededStore()
	o := NewOptimistic(s, senderFunc(func(context.Context, string, string) error { return nil }))

	temp, err := o.Send(context.Background(), "general", "hello")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !strings.HasPrefix(temp.ID, TempIDPrefix) || temp.SenderID != "u_alex" {
		t.Errorf("provisional = %+v", temp)
	}

	// The broadcast copy supersedes the provisional entry.
	s.Dispatch(AppendMessage("general", domain.Message{ID: "m_9", SenderID: "u_alex", Content: "hello"}))
	msgs := s.State().RoomMessages("general")
	if len(msgs) != 3 || msgs[2].ID != "m_9" {
		t.Errorf("messages = %+v, want provisional replaced by m_9", msgs)
	}
}

func TestOptimisticRequiresUser(t *testing.T) {
	t.Parallel()
	o := NewOptimistic(NewStore(), senderFunc(func(context.Context, string, string) error { return nil }))
	if _, err := o.Send(context.Background(), "general", "x"); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("error = %v, want ErrNotLoggedIn", err)
	}
}

func TestOptimisticTempIDsUnique(t *testing.T) {
	t.Parallel()
	s := loggedInStore()
	o := NewOptimistic(s, senderFunc(func(context.Context, string, string) error { return nil }))
	a, _ := o.Send(context.Background(), "general", "a")
	b, _ := o.Send(context.Background(), "general", "b")
	if a.ID == b.ID {
		t.Errorf("duplicate temp id %q", a.ID)
	}
}

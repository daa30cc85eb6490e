package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/wire"
)

const testReconnectDelay = 20 * time.Millisecond

func newTestPush(t *testing.T) (*PushStrategy, *fakeAPI, *fakeDialer, *Store) {
	t.Helper()
	api := newFakeAPI()
	dialer := &fakeDialer{}
	store := loggedInStore()
	p := NewPushStrategy(api, store, PushOptions{
		ServerURL:      "http://chat.test",
		ReconnectDelay: testReconnectDelay,
		Dialer:         dialer,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = p.Close() })
	return p, api, dialer, store
}

func TestPushSelectSameRoomIsIdempotent(t *testing.T) {
	t.Parallel()
	p, _, dialer, store := newTestPush(t)
	ctx := context.Background()

	for range 3 {
		if err := p.SelectRoom(ctx, "general"); err != nil {
			t.Fatalf("SelectRoom failed: %v", err)
		}
	}
	if dials, open, _ := dialer.stats(); dials != 1 || open != 1 {
		t.Errorf("dials=%d open=%d, want 1/1", dials, open)
	}
	if got := store.State().Conn; got != StatusConnected {
		t.Errorf("status = %q, want connected", got)
	}
	if !strings.Contains(dialer.last().url, "ws://chat.test/api/rooms/general/ws?") ||
		!strings.Contains(dialer.last().url, "userId=u_alex") {
		t.Errorf("dial url = %q", dialer.last().url)
	}
}

func TestPushSwitchRoomClosesOldWithoutReconnect(t *testing.T) {
	t.Parallel()
	p, _, dialer, store := newTestPush(t)
	ctx := context.Background()

	if err := p.SelectRoom(ctx, "general"); err != nil {
		t.Fatal(err)
	}
	first := dialer.last()
	if err := p.SelectRoom(ctx, "random"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-first.drop:
	default:
		t.Fatal("previous room connection still open")
	}
	time.Sleep(5 * testReconnectDelay)

	dials, open, maxOpen := dialer.stats()
	if dials != 2 || open != 1 || maxOpen != 1 {
		t.Errorf("dials=%d open=%d maxOpen=%d, want 2/1/1", dials, open, maxOpen)
	}
	if got := store.State().ActiveRoom; got != "random" {
		t.Errorf("active room = %q, want random", got)
	}
}

func TestPushServerDropReconnectsOnce(t *testing.T) {
	t.Parallel()
	p, _, dialer, store := newTestPush(t)
	if err := p.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatal(err)
	}

	dialer.last().serverDrop()
	if !eventually(func() bool { d, _, _ := dialer.stats(); return d == 2 }) {
		t.Fatal("no reconnect after server drop")
	}
	time.Sleep(5 * testReconnectDelay)

	dials, open, maxOpen := dialer.stats()
	if dials != 2 || open != 1 || maxOpen != 1 {
		t.Errorf("dials=%d open=%d maxOpen=%d, want 2/1/1", dials, open, maxOpen)
	}
	if !eventually(func() bool { return store.State().Conn == StatusConnected }) {
		t.Errorf("status = %q, want connected", store.State().Conn)
	}
	if p.Status() != StatusConnected {
		t.Errorf("Status() = %q, want connected", p.Status())
	}
}

func TestPushDialFailureRetries(t *testing.T) {
	t.Parallel()
	p, _, dialer, store := newTestPush(t)
	dialer.setFail(true)

	if err := p.SelectRoom(context.Background(), "general"); !errors.Is(err, errFakeDown) {
		t.Fatalf("SelectRoom error = %v, want errFakeDown", err)
	}
	if !eventually(func() bool { d, _, _ := dialer.stats(); return d >= 3 }) {
		t.Fatal("dial was not retried")
	}

	dialer.setFail(false)
	if !eventually(func() bool { return store.State().Conn == StatusConnected }) {
		t.Fatalf("status = %q, want connected", store.State().Conn)
	}
	if _, open, maxOpen := dialer.stats(); open != 1 || maxOpen != 1 {
		t.Errorf("open=%d maxOpen=%d, want 1/1", open, maxOpen)
	}
}

func TestPushCloseSuppressesReconnect(t *testing.T) {
	t.Parallel()
	p, _, dialer, store := newTestPush(t)
	if err := p.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * testReconnectDelay)

	if dials, open, _ := dialer.stats(); dials != 1 || open != 0 {
		t.Errorf("dials=%d open=%d, want 1/0", dials, open)
	}
	if got := store.State().Conn; got != StatusDisconnected {
		t.Errorf("status = %q, want disconnected", got)
	}
	if err := p.SelectRoom(context.Background(), "general"); !errors.Is(err, ErrClosed) {
		t.Errorf("SelectRoom after Close = %v, want ErrClosed", err)
	}
}

func TestPushLoadsHistoryAndAppliesEvents(t *testing.T) {
	t.Parallel()
	p, api, dialer, store := newTestPush(t)
	api.messages["general"] = []domain.Message{{ID: "m_1", Content: "earlier"}}

	if err := p.SelectRoom(context.Background(), "general"); err != nil {
		t.Fatal(err)
	}
	if msgs := store.State().RoomMessages("general"); len(msgs) != 1 || msgs[0].ID != "m_1" {
		t.Fatalf("history = %+v", msgs)
	}

	msg, _ := json.Marshal(domain.Message{ID: "m_2", SenderID: "u_sam", Content: "live"})
	pr, _ := json.Marshal(domain.Presence{Typing: []string{"sam"}})
	conn := dialer.last()
	conn.events <- wire.RawEvent{Type: wire.EventMessage, Data: msg}
	conn.events <- wire.RawEvent{Type: wire.EventPresence, Data: pr}

	ok := eventually(func() bool {
		st := store.State()
		return len(st.RoomMessages("general")) == 2 && len(st.Presence["general"].Typing) == 1
	})
	if !ok {
		st := store.State()
		t.Errorf("messages=%+v presence=%+v", st.RoomMessages("general"), st.Presence["general"])
	}
}

func TestPushWritesIntents(t *testing.T) {
	t.Parallel()
	p, _, dialer, _ := newTestPush(t)
	ctx := context.Background()
	if err := p.SelectRoom(ctx, "general"); err != nil {
		t.Fatal(err)
	}

	if err := p.SendMessage(ctx, "general", "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := p.ReportTyping(ctx, "general"); err != nil {
		t.Fatalf("ReportTyping failed: %v", err)
	}
	if err := p.SendMessage(ctx, "random", "nope"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send to unselected room = %v, want ErrNotConnected", err)
	}

	conn := dialer.last()
	conn.mu.Lock()
	defer conn.mu.Unlock()
	want := []wire.Intent{
		{Type: wire.IntentChat, RoomID: "general", Content: "hi"},
		{Type: wire.IntentTyping, RoomID: "general"},
	}
	if len(conn.written) != len(want) {
		t.Fatalf("written = %+v", conn.written)
	}
	for i := range want {
		if conn.written[i] != want[i] {
			t.Errorf("written[%d] = %+v, want %+v", i, conn.written[i], want[i])
		}
	}
}

func TestPushSubscriberMayReadStatus(t *testing.T) {
	t.Parallel()
	p, _, _, store := newTestPush(t)
	seen := make(chan ConnStatus, 16)
	store.Subscribe(func(State) {
		select {
		case seen <- p.Status():
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- p.SelectRoom(context.Background(), "general") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SelectRoom deadlocked with a subscriber reading status")
	}
}

func TestPushRequiresUser(t *testing.T) {
	t.Parallel()
	p := NewPushStrategy(newFakeAPI(), NewStore(), PushOptions{Dialer: &fakeDialer{}})
	if err := p.SelectRoom(context.Background(), "general"); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("error = %v, want ErrNotLoggedIn", err)
	}
}

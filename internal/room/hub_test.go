package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/store"
)

func TestHubReturnsSameActor(t *testing.T) {
	t.Parallel()
	h := NewHub(store.NewMemory(), newFakeDirectory())
	defer h.Shutdown()

	a, _ := h.Room("general")
	b, _ := h.Room("general")
	if a != b {
		t.Error("expected one actor per room")
	}
	if _, err := h.Room("bad:id"); !errors.Is(err, domain.ErrInvalidRoomID) {
		t.Errorf("Room(bad:id) error = %v", err)
	}
}

func TestHubRetiresIdleRoomAndRehydrates(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	st := store.NewMemory()
	h := NewHub(st, newFakeDirectory(), WithClock(clock.Now), WithIdleTimeout(time.Minute))
	defer h.Shutdown()
	ctx := context.Background()

	first, _ := h.Room("general")
	if _, err := first.Post(ctx, "u_1", "alex", "persisted", domain.MessageText); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	clock.Advance(2 * time.Minute)
	h.sweep()

	select {
	case <-first.loop.Stopped():
	case <-time.After(time.Second):
		t.Fatal("idle room was not retired")
	}
	if h.Stats().Rooms != 0 {
		t.Errorf("Stats().Rooms = %d, want 0", h.Stats().Rooms)
	}

	var msgs []domain.Message
	err := h.With("general", func(a *Actor) error {
		if a == first {
			t.Error("retired actor was reused")
		}
		var err error
		msgs, err = a.Messages(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "persisted" {
		t.Errorf("rehydrated messages = %+v", msgs)
	}
}

func TestHubKeepsRoomWithSessions(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	h := NewHub(store.NewMemory(), newFakeDirectory(), WithClock(clock.Now), WithIdleTimeout(time.Minute))
	defer h.Shutdown()

	a, _ := h.Room("general")
	if err := a.Connect(context.Background(), NewSession("u_1", "alex", "general", &fakeConn{})); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	clock.Advance(time.Hour)
	h.sweep()
	// Sweep is asynchronous; a round trip through the mailbox orders it.
	if _, err := a.Messages(context.Background()); err != nil {
		t.Fatalf("room with a session was retired: %v", err)
	}
	if st := h.Stats(); st.Rooms != 1 || st.Sessions != 1 {
		t.Errorf("Stats = %+v, want 1 room 1 session", st)
	}
}

func TestHubWithRetriesAfterRetirement(t *testing.T) {
	t.Parallel()
	h := NewHub(store.NewMemory(), newFakeDirectory())
	defer h.Shutdown()

	stale, _ := h.Room("general")
	h.detach(stale)
	stale.loop.Stop()
	stale.loop.Wait()

	calls := 0
	err := h.With("general", func(a *Actor) error {
		calls++
		if calls == 1 {
			_, err := stale.Messages(context.Background())
			return err
		}
		_, err := a.Messages(context.Background())
		return err
	})
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestHubShutdownClosesSessions(t *testing.T) {
	t.Parallel()
	h := NewHub(store.NewMemory(), newFakeDirectory())

	a, _ := h.Room("general")
	conn := &fakeConn{}
	s := NewSession("u_1", "alex", "general", conn)
	if err := a.Connect(context.Background(), s); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	h.Shutdown()

	if !conn.isClosed() {
		t.Error("connection not closed on shutdown")
	}
	if s.State() != SessionClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
	if _, err := h.Room("general"); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Room after Shutdown error = %v, want ErrHubClosed", err)
	}
	if err := a.Disconnect(context.Background(), s); err != nil {
		t.Errorf("Disconnect after shutdown = %v, want nil", err)
	}
}

func TestHubConnectRacingRetirementLandsOnLiveActor(t *testing.T) {
	t.Parallel()
	for i := 0; i < 50; i++ {
		clock := newFakeClock()
		h := NewHub(store.NewMemory(), newFakeDirectory(), WithClock(clock.Now), WithIdleTimeout(time.Minute))

		stale, _ := h.Room("general")
		started := make(chan struct{})
		release := make(chan struct{})
		if err := stale.loop.TryDo(func() { close(started); <-release }); err != nil {
			t.Fatal(err)
		}
		<-started

		clock.Advance(2 * time.Minute)
		h.sweep()

		s := NewSession("u_1", "alex", "general", &fakeConn{})
		owner := make(chan *Actor, 2)
		done := make(chan error, 1)
		go func() {
			done <- h.With("general", func(a *Actor) error {
				owner <- a
				return a.Connect(context.Background(), s)
			})
		}()
		// Give Connect time to queue behind the retirement.
		time.Sleep(time.Millisecond)
		close(release)

		if err := <-done; err != nil {
			t.Fatalf("run %d: With failed: %v", i, err)
		}
		var last *Actor
		for len(owner) > 0 {
			last = <-owner
		}
		current, err := h.Room("general")
		if err != nil {
			t.Fatal(err)
		}
		if last != current {
			t.Fatalf("run %d: session opened on a detached actor", i)
		}
		if s.State() != SessionOpen || current.SessionCount() != 1 {
			t.Fatalf("run %d: state=%s sessions=%d", i, s.State(), current.SessionCount())
		}
		h.Shutdown()
	}
}

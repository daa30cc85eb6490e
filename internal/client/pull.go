package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/wire"
)

const (
	defaultMessageInterval  = 3 * time.Second
	defaultPresenceInterval = 5 * time.Second
	fetchTimeout            = 5 * time.Second
)

// PullOptions configures a PullStrategy.
type PullOptions struct {
	MessageInterval  time.Duration
	PresenceInterval time.Duration
	Logger           *slog.Logger
}

// PullStrategy polls the selected room's messages and presence on two
// independent periods and replaces local state with the server's.
type PullStrategy struct {
	api    API
	store  *Store
	opts   PullOptions
	logger *slog.Logger

	// selectMu serializes SelectRoom and Close.
	selectMu sync.Mutex

	mu     sync.Mutex
	roomID string
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewPullStrategy creates a pull strategy writing into store.
func NewPullStrategy(api API, store *Store, opts PullOptions) *PullStrategy {
	if opts.MessageInterval <= 0 {
		opts.MessageInterval = defaultMessageInterval
	}
	if opts.PresenceInterval <= 0 {
		opts.PresenceInterval = defaultPresenceInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PullStrategy{api: api, store: store, opts: opts, logger: opts.Logger}
}

// SelectRoom fetches roomID once, then keeps polling it until another room
// is selected or the strategy is closed. Fetch failures are logged and
// retried on the next tick.
func (p *PullStrategy) SelectRoom(ctx context.Context, roomID string) error {
	p.selectMu.Lock()
	defer p.selectMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.roomID == roomID && p.cancel != nil {
		p.mu.Unlock()
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	// The previous loop only touches the store, so waiting is safe.
	p.wg.Wait()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	p.roomID = roomID
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	p.store.Dispatch(SetActiveRoom(roomID))
	p.store.Dispatch(SetConnStatus(StatusConnected))

	p.fetchMessages(ctx, roomID)
	p.fetchPresence(ctx, roomID)

	go p.poll(pollCtx, roomID)
	return nil
}

func (p *PullStrategy) poll(ctx context.Context, roomID string) {
	defer p.wg.Done()

	msgTicker := time.NewTicker(p.opts.MessageInterval)
	defer msgTicker.Stop()
	presenceTicker := time.NewTicker(p.opts.PresenceInterval)
	defer presenceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-msgTicker.C:
			p.fetchMessages(ctx, roomID)
		case <-presenceTicker.C:
			p.fetchPresence(ctx, roomID)
		}
	}
}

func (p *PullStrategy) fetchMessages(ctx context.Context, roomID string) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	msgs, err := p.api.Messages(ctx, roomID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Message poll failed", "room_id", roomID, "error", err)
		}
		return
	}
	p.store.Dispatch(ReplaceMessages(roomID, msgs))
}

func (p *PullStrategy) fetchPresence(ctx context.Context, roomID string) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	pr, err := p.api.Presence(ctx, roomID)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Presence poll failed", "room_id", roomID, "error", err)
		}
		return
	}
	p.store.Dispatch(SetPresence(roomID, pr))
}

func (p *PullStrategy) SendMessage(ctx context.Context, roomID, content string) error {
	user, err := currentUser(p.store)
	if err != nil {
		return err
	}
	_, err = p.api.PostMessage(ctx, roomID, wire.PostMessageRequest{
		SenderID:   user.ID,
		SenderName: user.Name,
		Content:    content,
		Type:       domain.MessageText,
	})
	return err
}

func (p *PullStrategy) ReportTyping(ctx context.Context, roomID string) error {
	user, err := currentUser(p.store)
	if err != nil {
		return err
	}
	return p.api.ReportPresence(ctx, roomID, wire.PresenceRequest{
		UserID:   user.ID,
		UserName: user.Name,
		IsTyping: true,
	})
}

// Close stops polling.
func (p *PullStrategy) Close() error {
	p.selectMu.Lock()
	defer p.selectMu.Unlock()

	p.mu.Lock()
	p.closed = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.store.Dispatch(SetConnStatus(StatusDisconnected))
	return nil
}

package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velocity-chat/velocity/internal/domain"
	"github.com/velocity-chat/velocity/internal/wire"
)

const (
	defaultReconnectDelay = 3 * time.Second
	dialTimeout           = 10 * time.Second
)

// PushOptions configures a PushStrategy.
type PushOptions struct {
	ServerURL      string
	ReconnectDelay time.Duration
	Dialer         Dialer
	Logger         *slog.Logger
}

// pushSession is one connection attempt for one room. conn is nil while
// dialing.
type pushSession struct {
	roomID      string
	conn        Conn
	intentional atomic.Bool
	cancel      context.CancelFunc
}

// PushStrategy keeps at most one live connection, to the selected room,
// and reconnects after unexpected closes.
type PushStrategy struct {
	api    API
	store  *Store
	base   string
	delay  time.Duration
	dialer Dialer
	logger *slog.Logger

	mu        sync.Mutex
	status    ConnStatus
	published bool
	roomID    string
	session   *pushSession
	timer     *time.Timer
	closed    bool
}

// NewPushStrategy creates a push strategy writing into store.
func NewPushStrategy(api API, store *Store, opts PushOptions) *PushStrategy {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PushStrategy{
		api:       api,
		store:     store,
		base:      opts.ServerURL,
		delay:     opts.ReconnectDelay,
		dialer:    opts.Dialer,
		logger:    opts.Logger,
		status:    StatusDisconnected,
		published: true,
	}
}

// Status returns the connection manager state.
func (p *PushStrategy) Status() ConnStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SelectRoom connects to roomID. Selecting the room that is already
// connecting or connected does nothing. Any other session is closed
// without triggering a reconnect, and history is loaded once before
// dialing.
func (p *PushStrategy) SelectRoom(ctx context.Context, roomID string) error {
	user, err := currentUser(p.store)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.roomID == roomID && p.session != nil {
		p.mu.Unlock()
		return nil
	}
	old := p.session
	if old != nil {
		old.intentional.Store(true)
	}
	p.stopTimerLocked()
	p.roomID = roomID
	sess := &pushSession{roomID: roomID}
	p.session = sess
	p.setStatusLocked(StatusConnecting)
	p.unlockAndPublish()

	p.store.Dispatch(SetActiveRoom(roomID))
	closeSession(old)

	msgs, err := p.api.Messages(ctx, roomID)
	if err != nil {
		p.logger.Warn("Failed to load history", "room_id", roomID, "error", err)
	} else {
		p.store.Dispatch(ReplaceMessages(roomID, msgs))
	}

	return p.connect(ctx, sess, user)
}

// connect dials for sess. A failed dial schedules a reconnect.
func (p *PushStrategy) connect(ctx context.Context, sess *pushSession, user domain.User) error {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := p.dialer.Dial(dctx, liveURL(p.base, sess.roomID, user))
	cancel()

	p.mu.Lock()
	if p.session != sess {
		// Superseded while dialing.
		p.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		p.session = nil
		p.setStatusLocked(StatusDisconnected)
		if !sess.intentional.Load() {
			p.scheduleReconnectLocked(sess.roomID)
		}
		p.unlockAndPublish()
		p.logger.Warn("Dial failed", "room_id", sess.roomID, "error", err)
		return err
	}
	readCtx, readCancel := context.WithCancel(context.Background())
	sess.conn = conn
	sess.cancel = readCancel
	p.setStatusLocked(StatusConnected)
	p.unlockAndPublish()

	p.logger.Info("Connected", "room_id", sess.roomID)
	go p.readLoop(readCtx, sess)
	return nil
}

func (p *PushStrategy) readLoop(ctx context.Context, sess *pushSession) {
	for {
		ev, err := sess.conn.Read(ctx)
		if err != nil {
			p.onClosed(sess, err)
			return
		}
		p.apply(sess.roomID, ev)
	}
}

func (p *PushStrategy) apply(roomID string, ev wire.RawEvent) {
	switch ev.Type {
	case wire.EventMessage:
		var m domain.Message
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			p.logger.Warn("Bad message event", "room_id", roomID, "error", err)
			return
		}
		p.store.Dispatch(AppendMessage(roomID, m))
	case wire.EventPresence:
		var pr domain.Presence
		if err := json.Unmarshal(ev.Data, &pr); err != nil {
			p.logger.Warn("Bad presence event", "room_id", roomID, "error", err)
			return
		}
		p.store.Dispatch(SetPresence(roomID, pr))
	default:
		p.logger.Debug("Ignoring event", "type", ev.Type)
	}
}

func (p *PushStrategy) onClosed(sess *pushSession, err error) {
	p.mu.Lock()
	if p.session == sess {
		p.session = nil
		p.setStatusLocked(StatusDisconnected)
	}
	unexpected := !sess.intentional.Load() && !p.closed
	if unexpected {
		p.scheduleReconnectLocked(sess.roomID)
	}
	p.unlockAndPublish()

	if unexpected {
		p.logger.Warn("Connection lost", "room_id", sess.roomID, "error", err)
	}
}

// scheduleReconnectLocked arms at most one pending reconnect.
func (p *PushStrategy) scheduleReconnectLocked(roomID string) {
	if p.timer != nil || p.closed {
		return
	}
	p.timer = time.AfterFunc(p.delay, func() { p.reconnect(roomID) })
}

// reconnect proceeds only if roomID is still selected and has no session.
func (p *PushStrategy) reconnect(roomID string) {
	user, err := currentUser(p.store)

	p.mu.Lock()
	p.timer = nil
	if err != nil || p.closed || p.roomID != roomID || p.session != nil {
		p.mu.Unlock()
		return
	}
	sess := &pushSession{roomID: roomID}
	p.session = sess
	p.setStatusLocked(StatusConnecting)
	p.unlockAndPublish()

	p.logger.Info("Reconnecting", "room_id", roomID)
	_ = p.connect(context.Background(), sess, user)
}

func (p *PushStrategy) SendMessage(ctx context.Context, roomID, content string) error {
	return p.write(ctx, wire.Intent{Type: wire.IntentChat, RoomID: roomID, Content: content})
}

func (p *PushStrategy) ReportTyping(ctx context.Context, roomID string) error {
	return p.write(ctx, wire.Intent{Type: wire.IntentTyping, RoomID: roomID})
}

func (p *PushStrategy) write(ctx context.Context, in wire.Intent) error {
	p.mu.Lock()
	var conn Conn
	if sess := p.session; sess != nil && sess.roomID == in.RoomID {
		conn = sess.conn
	}
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ctx, in)
}

// Close marks the session intentional before closing it, so no reconnect
// follows.
func (p *PushStrategy) Close() error {
	p.mu.Lock()
	p.closed = true
	p.stopTimerLocked()
	sess := p.session
	p.session = nil
	if sess != nil {
		sess.intentional.Store(true)
	}
	p.setStatusLocked(StatusDisconnected)
	p.unlockAndPublish()

	closeSession(sess)
	return nil
}

func (p *PushStrategy) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *PushStrategy) setStatusLocked(st ConnStatus) {
	if p.status != st {
		p.status = st
		p.published = false
	}
}

// unlockAndPublish releases p.mu and then mirrors a changed status into
// the store, so subscribers never run under p.mu. The action reads the
// status again so a late publish cannot overwrite a newer one.
func (p *PushStrategy) unlockAndPublish() {
	changed := !p.published
	p.published = true
	p.mu.Unlock()
	if changed {
		p.store.Dispatch(func(s State) State {
			return SetConnStatus(p.Status())(s)
		})
	}
}

func closeSession(sess *pushSession) {
	if sess == nil {
		return
	}
	if sess.cancel != nil {
		sess.cancel()
	}
	if sess.conn != nil {
		_ = sess.conn.Close()
	}
}

package live

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/velocity-chat/velocity/internal/room"
)

const defaultWriteTimeout = 5 * time.Second

// frameWriter is the write side of *websocket.Conn.
type frameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// SessionWriter queues outbound frames for one session and writes them
// from a background goroutine, so a slow client never blocks the room
// actor that broadcasts to it.
type SessionWriter struct {
	out          frameWriter
	queue        chan []byte
	writeTimeout time.Duration
	onClose      func()
	logger       *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	sent    atomic.Int64
	dropped atomic.Int64
}

// WriterStats counts frames for one session.
type WriterStats struct {
	Sent    int64
	Dropped int64
	Queued  int
}

// NewSessionWriter starts a writer with a queue of size frames. onClose,
// if set, runs once when the writer shuts down for any reason.
func NewSessionWriter(out frameWriter, size int, writeTimeout time.Duration, onClose func(), logger *slog.Logger) *SessionWriter {
	if size <= 0 {
		size = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &SessionWriter{
		out:          out,
		queue:        make(chan []byte, size),
		writeTimeout: writeTimeout,
		onClose:      onClose,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go w.run()
	return w
}

// Send queues data without blocking. It returns room.ErrBackpressure when
// the queue is full and room.ErrSessionClosed after Close.
func (w *SessionWriter) Send(data []byte) error {
	select {
	case <-w.ctx.Done():
		return room.ErrSessionClosed
	default:
	}
	select {
	case w.queue <- data:
		return nil
	default:
		w.dropped.Add(1)
		w.logger.Warn("Session queue full, dropping frame", "queue_len", len(w.queue))
		return room.ErrBackpressure
	}
}

// Close stops the writer and waits for the goroutine to exit. Frames still
// queued are discarded.
func (w *SessionWriter) Close() {
	w.shutdown()
	<-w.done
}

func (w *SessionWriter) shutdown() {
	w.closeOnce.Do(func() {
		w.cancel()
		if w.onClose != nil {
			w.onClose()
		}
	})
}

func (w *SessionWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case data := <-w.queue:
			start := time.Now()
			ctx, cancel := context.WithTimeout(w.ctx, w.writeTimeout)
			err := w.out.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if w.ctx.Err() == nil {
					w.logger.Debug("WebSocket write error", "error", err)
				}
				w.shutdown()
				return
			}
			w.sent.Add(1)
			if d := time.Since(start); d > 100*time.Millisecond {
				w.logger.Warn("Slow websocket write", "duration_ms", d.Milliseconds())
			}
		}
	}
}

// Stats returns frame counters.
func (w *SessionWriter) Stats() WriterStats {
	return WriterStats{
		Sent:    w.sent.Load(),
		Dropped: w.dropped.Load(),
		Queued:  len(w.queue),
	}
}

// Package actor provides a single-goroutine mailbox. Every function
// submitted to a Loop runs on that goroutine, one at a time, so state
// owned by the loop needs no locking.
package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned when a command is submitted to, or was pending
// on, a loop that has stopped.
var ErrStopped = errors.New("actor stopped")

// ErrMailboxFull is returned by TryDo when the mailbox has no room.
var ErrMailboxFull = errors.New("actor mailbox full")

const (
	cmdPending int32 = iota
	cmdRunning
	cmdAbandoned
)

// command moves from pending to running on the loop, or from pending to
// abandoned when its caller gives up first. Exactly one side wins.
type command struct {
	fn    func()
	done  chan struct{}
	state atomic.Int32
}

// Loop is a serial executor backed by a buffered mailbox.
type Loop struct {
	mailbox  chan *command
	stopped  chan struct{}
	stopOnce sync.Once
	finished chan struct{}
}

// NewLoop starts a loop with the given mailbox capacity.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = 1
	}
	l := &Loop{
		mailbox:  make(chan *command, size),
		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.finished)
	for {
		select {
		case <-l.stopped:
			return
		case cmd := <-l.mailbox:
			// select picks at random when both are ready, so a command
			// dequeued after Stop must not run.
			select {
			case <-l.stopped:
				return
			default:
			}
			if !cmd.state.CompareAndSwap(cmdPending, cmdRunning) {
				continue
			}
			cmd.fn()
			if cmd.done != nil {
				close(cmd.done)
			}
		}
	}
}

// Do runs fn on the loop and waits for it to finish. A non-nil error means
// fn did not run and never will, so values fn writes are only valid when
// Do returns nil. Once fn has started, Do waits for it even if ctx ends.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	cmd := &command{fn: fn, done: make(chan struct{})}
	select {
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	case l.mailbox <- cmd:
	}

	select {
	case <-cmd.done:
		return nil
	case <-l.stopped:
		// The loop may have run fn just before stopping.
		<-l.finished
		select {
		case <-cmd.done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		if cmd.state.CompareAndSwap(cmdPending, cmdAbandoned) {
			return ctx.Err()
		}
		<-cmd.done
		return nil
	}
}

// TryDo enqueues fn without waiting. It never blocks.
func (l *Loop) TryDo(fn func()) error {
	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}
	select {
	case l.mailbox <- &command{fn: fn}:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Stop halts the loop after the command currently executing. Pending
// commands are abandoned and their callers receive ErrStopped. Safe to
// call from inside a command.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopped) })
}

// Stopped is closed once Stop has been called.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

// Wait blocks until the loop goroutine has exited.
func (l *Loop) Wait() {
	<-l.finished
}

// Package dispatch implements the single logical control thread. Every
// mutation of rotation state and of the surface map is posted here and runs
// on one goroutine, so none of that state needs its own locking.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when work is posted to a stopped queue
var ErrClosed = errors.New("dispatch queue closed")

// Poster marshals work onto the control thread
type Poster interface {
	// Post enqueues fn and returns immediately. It reports false if the
	// queue no longer accepts work.
	Post(fn func()) bool
}

// Queue is an unbounded FIFO of closures drained by a single goroutine
type Queue struct {
	logger *zap.Logger

	mu     sync.Mutex
	items  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewQueue creates an idle queue. Call Run to start draining it.
func NewQueue(logger *zap.Logger) *Queue {
	return &Queue{
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post enqueues fn without blocking
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
		// A wake-up is already pending
	}
	return true
}

// Do runs fn on the control thread and waits for it to finish.
// It must not be called from the control thread itself.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !q.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
// Work posted before Close is still executed.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	q.logger.Debug("Control loop started")

	for {
		select {
		case <-ctx.Done():
			q.shutdown()
			q.logger.Debug("Control loop stopped", zap.Error(ctx.Err()))
			return
		case <-q.wake:
			q.Flush()

			q.mu.Lock()
			finished := q.closed && len(q.items) == 0
			q.mu.Unlock()
			if finished {
				q.logger.Debug("Control loop drained and closed")
				return
			}
		}
	}
}

// Flush runs every queued closure on the caller's goroutine and returns
// how many ran. Run uses it internally; tests call it directly instead of
// running a loop.
func (q *Queue) Flush() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return n
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		q.run(fn)
		n++
	}
}

// Close stops accepting work and wakes the loop so it can exit
func (q *Queue) Close() {
	q.shutdown()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// run executes a single closure, keeping the loop alive if it panics
func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Recovered panic on control thread", zap.Any("panic", r))
		}
	}()
	fn()
}

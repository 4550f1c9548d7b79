// Package userinterface carries messages between a copilot and its user: an
// interruptible queue, the duplex interface built on two of them, a
// command-line front end and a websocket bridge.
package userinterface

import (
	"context"
	"sync"
	"time"

	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
)

// DefaultPollInterval bounds how long a blocked Get goes without checking
// the interrupt flag.
const DefaultPollInterval = time.Second

// Queue is an unbounded FIFO whose blocked readers are released by
// Interrupt. After an interrupt every call fails with errs.ErrInterrupted.
type Queue[T any] struct {
	poll time.Duration

	mu    sync.Mutex
	items []T

	signal        chan struct{}
	done          chan struct{}
	interruptOnce sync.Once
}

// NewQueue returns an empty queue. A non-positive poll uses
// DefaultPollInterval.
func NewQueue[T any](poll time.Duration) *Queue[T] {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Queue[T]{
		poll:   poll,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Put appends v and wakes one waiting reader.
func (q *Queue[T]) Put(v T) error {
	if q.Interrupted() {
		return errs.ErrInterrupted
	}
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notify()
	return nil
}

func (q *Queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryGet pops the head without blocking.
func (q *Queue[T]) TryGet() (T, bool, error) {
	var zero T
	if q.Interrupted() {
		return zero, false, errs.ErrInterrupted
	}
	v, ok := q.pop()
	return v, ok, nil
}

func (q *Queue[T]) pop() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.notify()
	}
	return v, true
}

// Get blocks until an item arrives, the queue is interrupted or ctx ends.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	timer := time.NewTimer(q.poll)
	defer timer.Stop()
	for {
		if q.Interrupted() {
			return zero, errs.ErrInterrupted
		}
		if v, ok := q.pop(); ok {
			return v, nil
		}
		select {
		case <-q.signal:
		case <-q.done:
			return zero, errs.ErrInterrupted
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
			timer.Reset(q.poll)
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Interrupt releases every blocked reader. It is idempotent and permanent.
func (q *Queue[T]) Interrupt() {
	q.interruptOnce.Do(func() { close(q.done) })
}

func (q *Queue[T]) Interrupted() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

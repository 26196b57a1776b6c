// Package workqueue provides the FIFO handoff channel between the
// request-serving domain and the scheduling domain.
package workqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrShutdown is returned by Put after Shutdown has been called.
var ErrShutdown = errors.New("work queue is shut down")

// Queue is a bounded FIFO of session ids. The producer side is the
// request handler; the single consumer is the scheduler loop. A
// shutdown sentinel terminates the consumer; ids for sessions that no
// longer exist are tolerated by contract on the consumer side.
type Queue struct {
	ch   chan string
	once sync.Once
	done chan struct{}
}

// New creates a queue with the given capacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 128
	}
	return &Queue{
		ch:   make(chan string, capacity),
		done: make(chan struct{}),
	}
}

// Put enqueues a session id, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, id string) error {
	select {
	case <-q.done:
		return ErrShutdown
	default:
	}
	select {
	case q.ch <- id:
		return nil
	case <-q.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next session id. ok is false when the queue has
// been shut down or the context is done; the consumer must then stop.
func (q *Queue) Get(ctx context.Context) (id string, ok bool) {
	select {
	case id = <-q.ch:
		return id, true
	case <-q.done:
		// Drain what was enqueued before shutdown.
		select {
		case id = <-q.ch:
			return id, true
		default:
			return "", false
		}
	case <-ctx.Done():
		return "", false
	}
}

// Shutdown delivers the shutdown sentinel. Idempotent.
func (q *Queue) Shutdown() {
	q.once.Do(func() { close(q.done) })
}

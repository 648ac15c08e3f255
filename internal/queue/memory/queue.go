// Package memory provides the bounded in-process mailboxes that carry
// envelopes between pipeline roles.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/plotmon/internal/protocol"
	"github.com/JakeFAU/plotmon/internal/queue"
)

// ErrClosed is returned once a queue has been closed and drained.
var ErrClosed = queue.ErrMailboxClosed

// Queue is a bounded in-memory queue with context-aware operations. It
// implements queue.Mailbox.
type Queue struct {
	ch chan protocol.Envelope

	// senders hold the read lock so Close never races a send
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan protocol.Envelope, capacity),
	}
}

// Enqueue pushes an envelope into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, env protocol.Envelope) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return fmt.Errorf("enqueue %s: %w", env.Kind, ErrClosed)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- env:
		return nil
	}
}

// Dequeue pops the next envelope, respecting context cancellation. Envelopes
// buffered before Close are still delivered.
func (q *Queue) Dequeue(ctx context.Context) (protocol.Envelope, error) {
	select {
	case <-ctx.Done():
		return protocol.Envelope{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case env, ok := <-q.ch:
		if !ok {
			return protocol.Envelope{}, ErrClosed
		}
		return env, nil
	}
}

// Len returns the number of buffered envelopes.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Blocked senders must be
// released through their contexts first.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

var _ queue.Mailbox = (*Queue)(nil)

// Package queue defines the mailbox abstraction the pipeline roles receive
// envelopes through. This keeps the roles independent of how envelopes are
// carried between them.
package queue

import (
	"context"
	"errors"

	"github.com/JakeFAU/plotmon/internal/protocol"
)

// ErrMailboxClosed is returned once a mailbox has been closed and drained.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is a bounded FIFO of envelopes owned by one role.
type Mailbox interface {
	// Enqueue blocks until the envelope is accepted or ctx ends.
	Enqueue(ctx context.Context, env protocol.Envelope) error

	// Dequeue blocks until an envelope is available, the mailbox is closed, or ctx ends.
	Dequeue(ctx context.Context) (protocol.Envelope, error)

	// Close stops accepting envelopes. Buffered envelopes remain readable.
	Close()
}

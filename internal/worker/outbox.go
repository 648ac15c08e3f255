// Package worker implements the pipeline roles that run beside the
// orchestrator: the log analyzer and the process sampler. Each role owns its
// state, reads envelopes from its own mailbox and replies through an Outbox.
package worker

import (
	"context"
	"fmt"

	"github.com/JakeFAU/plotmon/internal/metrics"
	"github.com/JakeFAU/plotmon/internal/protocol"
	"github.com/JakeFAU/plotmon/internal/queue"
)

// Outbox stamps payloads and delivers them to one mailbox.
type Outbox struct {
	mailbox queue.Mailbox
	stamper *protocol.Stamper
}

// NewOutbox binds a stamper to the destination mailbox.
func NewOutbox(mailbox queue.Mailbox, stamper *protocol.Stamper) *Outbox {
	return &Outbox{mailbox: mailbox, stamper: stamper}
}

// Send stamps p and blocks until the mailbox accepts it or ctx ends.
func (o *Outbox) Send(ctx context.Context, p protocol.Payload) error {
	env, err := o.stamper.Stamp(p)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := o.mailbox.Enqueue(ctx, env); err != nil {
		return fmt.Errorf("send %s: %w", env.Kind, err)
	}
	metrics.ObserveEnvelope(string(env.Kind))
	return nil
}

package progress

import "context"

// Sink consumes batches of job events in emission order. Consume runs on the
// hub goroutine under the configured sink timeout.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts events without blocking. The dispatcher only sees this.
type Emitter interface {
	Emit(evt Event)
}

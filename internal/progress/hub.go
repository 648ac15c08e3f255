package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 64). Live
//     views use 1 so every update is delivered as it arrives.
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 64
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub fans Event streams out to registered sinks. It is safe for concurrent
// use by multiple goroutines and never blocks callers.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	dropWarn *rate.Sometimes
	dropped  atomic.Int64
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background batching goroutine using
// the supplied sinks. The returned Hub is immediately ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		events:   make(chan Event, cfg.BufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   cfg.Logger,
		dropWarn: &rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues an Event. It never blocks; if the buffer is full the event is
// dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.String("job", evt.Job), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
		})
	}
}

// Close drains remaining events, flushes and closes sinks, and blocks until
// the background goroutine exits. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// batcher accumulates events and owns the flush deadline.
type batcher struct {
	events []Event
	timer  *time.Timer
	armed  bool
}

func (b *batcher) disarm() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}

func (b *batcher) arm(wait time.Duration) {
	b.disarm()
	b.timer.Reset(wait)
	b.armed = true
}

func (h *Hub) run() {
	defer close(h.doneCh)
	b := &batcher{
		events: make([]Event, 0, h.cfg.MaxBatchEvents),
		timer:  time.NewTimer(h.cfg.MaxBatchWait),
	}
	b.timer.Stop()
	for {
		select {
		case evt := <-h.events:
			h.add(b, evt)
			if b.armed || len(b.events) == 0 {
				continue
			}
			b.arm(h.cfg.MaxBatchWait)
		case <-b.timer.C:
			b.armed = false
			h.flushBatch(b)
		case <-h.stopCh:
			b.disarm()
			h.drain(b)
			h.closeSinks()
			return
		}
	}
}

// add appends evt and flushes once the batch is full.
func (h *Hub) add(b *batcher, evt Event) {
	b.events = append(b.events, evt)
	if len(b.events) >= h.cfg.MaxBatchEvents {
		h.flushBatch(b)
		b.disarm()
	}
}

func (h *Hub) drain(b *batcher) {
	for {
		select {
		case evt := <-h.events:
			h.add(b, evt)
		default:
			h.flushBatch(b)
			return
		}
	}
}

func (h *Hub) flushBatch(b *batcher) {
	if len(b.events) == 0 {
		return
	}
	batch := append([]Event(nil), b.events...)
	b.events = b.events[:0]
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

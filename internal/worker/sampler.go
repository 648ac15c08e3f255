package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/plotmon/internal/discovery"
	"github.com/JakeFAU/plotmon/internal/metrics"
	"github.com/JakeFAU/plotmon/internal/protocol"
	"github.com/JakeFAU/plotmon/internal/queue"
)

// JobDiscoverer runs one discovery cycle.
type JobDiscoverer interface {
	DiscoverJobs(ctx context.Context) (map[string]discovery.JobDescriptor, error)
}

// ResourceMonitor samples pids periodically until ctx ends.
type ResourceMonitor interface {
	Monitor(ctx context.Context, interval time.Duration, pids []int, emit func(discovery.Snapshot)) error
}

// Sampler is the process discovery and resource sampling role.
type Sampler struct {
	inbox      queue.Mailbox
	out        *Outbox
	discoverer JobDiscoverer
	monitor    ResourceMonitor
	logger     *zap.Logger
}

// NewSampler constructs the sampler role.
func NewSampler(
	inbox queue.Mailbox,
	out *Outbox,
	discoverer JobDiscoverer,
	monitor ResourceMonitor,
	logger *zap.Logger,
) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		inbox:      inbox,
		out:        out,
		discoverer: discoverer,
		monitor:    monitor,
		logger:     logger,
	}
}

// Name identifies the role in logs.
func (s *Sampler) Name() string {
	return "sampler"
}

// Run serves requests until ctx ends, the mailbox closes, or a discovery
// request asks it to exit after replying. A failed process table read is
// fatal for the run.
func (s *Sampler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg          sync.WaitGroup
		stopMonitor context.CancelFunc = func() {}
	)
	defer func() {
		stopMonitor()
		wg.Wait()
	}()

	for {
		env, err := s.inbox.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrMailboxClosed) {
				return nil
			}
			return fmt.Errorf("sampler dequeue: %w", err)
		}
		switch p := env.Payload.(type) {
		case protocol.DiscoverJobs:
			exit, err := s.discover(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if exit {
				return nil
			}
		case protocol.MonitorResources:
			stopMonitor()
			wg.Wait()
			var monitorCtx context.Context
			monitorCtx, stopMonitor = context.WithCancel(ctx)
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.runMonitor(monitorCtx, p)
			}()
		default:
			s.logger.Warn("sampler ignoring envelope", zap.String("kind", string(env.Kind)))
		}
	}
}

func (s *Sampler) discover(ctx context.Context, req protocol.DiscoverJobs) (bool, error) {
	jobs, err := s.discoverer.DiscoverJobs(ctx)
	if err != nil {
		return false, fmt.Errorf("discover jobs: %w", err)
	}
	s.logger.Debug("jobs discovered", zap.Int("jobs", len(jobs)))
	if err := s.out.Send(ctx, protocol.JobsFound{Jobs: jobs}); err != nil {
		return false, err
	}
	return req.ExitAfterReply, nil
}

func (s *Sampler) runMonitor(ctx context.Context, req protocol.MonitorResources) {
	if len(req.PIDs) == 0 {
		s.logger.Info("no worker processes to sample")
		return
	}
	err := s.monitor.Monitor(ctx, req.Interval(), req.PIDs, func(snap discovery.Snapshot) {
		metrics.ObserveSampleCycle(snap.Took, len(snap.Errors))
		for pid, err := range snap.Errors {
			s.logger.Debug("pid sample failed", zap.Int("pid", pid), zap.Error(err))
		}
		if err := s.out.Send(ctx, protocol.SnapshotFrom(snap)); err != nil && ctx.Err() == nil {
			s.logger.Warn("resource snapshot not delivered", zap.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("resource monitor stopped", zap.Error(err))
	}
}

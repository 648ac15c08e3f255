package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/plotmon/internal/aggregator"
	"github.com/JakeFAU/plotmon/internal/metrics"
	"github.com/JakeFAU/plotmon/internal/protocol"
	"github.com/JakeFAU/plotmon/internal/queue"
	"github.com/JakeFAU/plotmon/internal/stats"
	"github.com/JakeFAU/plotmon/internal/tail"
)

// LineStream yields the lines already in a log and then the appended ones.
type LineStream interface {
	Existing() []string
	Lines() <-chan string
	Err() error
	Close() error
}

// StreamOpener opens a LineStream for a log path.
type StreamOpener interface {
	Open(ctx context.Context, path string) (LineStream, error)
}

// TailOpener opens streams with package tail.
type TailOpener struct{}

// Open implements StreamOpener.
func (TailOpener) Open(ctx context.Context, path string) (LineStream, error) {
	s, err := tail.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("tail open: %w", err)
	}
	return s, nil
}

// Analyzer is the log analysis role. It owns one Tracker per job and the
// timing samples collected from every log.
type Analyzer struct {
	inbox   queue.Mailbox
	out     *Outbox
	opener  StreamOpener
	samples *stats.Collector
	logger  *zap.Logger
}

// NewAnalyzer constructs the analyzer role.
func NewAnalyzer(inbox queue.Mailbox, out *Outbox, opener StreamOpener, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opener == nil {
		opener = TailOpener{}
	}
	return &Analyzer{
		inbox:   inbox,
		out:     out,
		opener:  opener,
		samples: stats.NewCollector(),
		logger:  logger,
	}
}

// Name identifies the role in logs.
func (a *Analyzer) Name() string {
	return "analyzer"
}

// Run serves ANALYZE requests until ctx ends or the mailbox closes. In print
// mode it returns once the report is sent; in watch mode every job is followed
// on its own goroutine until ctx ends.
func (a *Analyzer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		_ = g.Wait()
	}()

	for {
		env, err := a.inbox.Dequeue(gctx)
		if err != nil {
			if gctx.Err() != nil || errors.Is(err, queue.ErrMailboxClosed) {
				return nil
			}
			return fmt.Errorf("analyzer dequeue: %w", err)
		}
		req, ok := protocol.As[protocol.Analyze](env)
		if !ok {
			a.logger.Warn("analyzer ignoring envelope", zap.String("kind", string(env.Kind)))
			continue
		}
		if req.Mode == protocol.ModePrint {
			if err := a.report(gctx, req.Jobs); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		}
		for _, job := range req.Jobs {
			g.Go(func() error {
				a.follow(gctx, job)
				return nil
			})
		}
	}
}

// report replays every job once, in order, and sends one summary per job.
func (a *Analyzer) report(ctx context.Context, jobs []protocol.JobRef) error {
	for _, job := range jobs {
		tracker := aggregator.NewTracker(job.Name, a.samples)
		stream, err := a.opener.Open(ctx, job.LogPath)
		if err != nil {
			if err := a.jobFailed(ctx, job, err); err != nil {
				return err
			}
			continue
		}
		lines := stream.Existing()
		state := tracker.Replay(lines)
		if err := stream.Close(); err != nil {
			a.logger.Warn("close log", zap.String("job", job.Name), zap.Error(err))
		}
		metrics.ObserveLines("replay", len(lines))

		if err := a.out.Send(ctx, protocol.NewProgressUpdate(job.Name, state)); err != nil {
			return err
		}
		summary := protocol.JobSummary{Name: job.Name, Line: aggregator.Summary(job.Name, state), State: state}
		if err := a.out.Send(ctx, summary); err != nil {
			return err
		}
	}
	if err := a.out.Send(ctx, protocol.PhaseStatsUpdate{Stats: a.samples.Snapshot()}); err != nil {
		return err
	}
	return a.out.Send(ctx, protocol.AnalysisDone{Jobs: len(jobs)})
}

// follow replays one job and then relays every appended line. Stream
// failures are reported for the job alone.
func (a *Analyzer) follow(ctx context.Context, job protocol.JobRef) {
	logger := a.logger.With(zap.String("job", job.Name))
	stream, err := a.opener.Open(ctx, job.LogPath)
	if err != nil {
		if sendErr := a.jobFailed(ctx, job, err); sendErr != nil && ctx.Err() == nil {
			logger.Warn("job error not delivered", zap.Error(sendErr))
		}
		return
	}
	metrics.IncActiveStreams()
	defer func() {
		metrics.DecActiveStreams()
		if err := stream.Close(); err != nil {
			logger.Warn("close log", zap.Error(err))
		}
	}()

	tracker := aggregator.NewTracker(job.Name, a.samples)
	existing := stream.Existing()
	state := tracker.Replay(existing)
	metrics.ObserveLines("replay", len(existing))
	if err := a.out.Send(ctx, protocol.NewProgressUpdate(job.Name, state)); err != nil {
		return
	}
	if err := a.sendStats(ctx, job.Name); err != nil {
		return
	}

	for line := range stream.Lines() {
		state, sampled := tracker.Advance(line)
		metrics.ObserveLines("live", 1)
		if err := a.out.Send(ctx, protocol.NewProgressUpdate(job.Name, state)); err != nil {
			return
		}
		if !sampled {
			continue
		}
		if err := a.sendStats(ctx, job.Name); err != nil {
			return
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		if sendErr := a.jobFailed(ctx, job, err); sendErr != nil {
			logger.Warn("job error not delivered", zap.Error(sendErr))
		}
	}
}

func (a *Analyzer) sendStats(ctx context.Context, name string) error {
	samples := a.samples.Job(name)
	if len(samples) == 0 {
		return nil
	}
	return a.out.Send(ctx, protocol.PhaseStatsUpdate{Stats: map[string]stats.JobSamples{name: samples}})
}

func (a *Analyzer) jobFailed(ctx context.Context, job protocol.JobRef, cause error) error {
	reason := "open"
	if errors.Is(cause, tail.ErrRotated) {
		reason = "rotated"
	}
	metrics.ObserveJobError(reason)
	a.logger.Warn("job log unavailable", zap.String("job", job.Name), zap.String("path", job.LogPath), zap.Error(cause))
	return a.out.Send(ctx, protocol.JobError{Name: job.Name, Reason: cause.Error()})
}

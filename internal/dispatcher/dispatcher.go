// Package dispatcher runs the orchestrator: it drives discovery, dispatches
// analysis to the roles, and relays their replies to the presentation layer.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/plotmon/internal/aggregator"
	"github.com/JakeFAU/plotmon/internal/discovery"
	"github.com/JakeFAU/plotmon/internal/progress"
	"github.com/JakeFAU/plotmon/internal/protocol"
	"github.com/JakeFAU/plotmon/internal/queue"
	"github.com/JakeFAU/plotmon/internal/worker"
)

// State is the orchestrator lifecycle stage.
type State int32

// Orchestrator states.
const (
	Idle State = iota
	Discovering
	Dispatched
	Streaming
	Reporting
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Discovering:
		return "discovering"
	case Dispatched:
		return "dispatched"
	case Streaming:
		return "streaming"
	case Reporting:
		return "reporting"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Role is a pipeline participant running on its own goroutine.
type Role interface {
	Name() string
	Run(ctx context.Context) error
}

// Endpoint pairs a role with the mailbox it reads from.
type Endpoint struct {
	Role    Role
	Mailbox queue.Mailbox
}

// Config selects the run mode and job filter.
type Config struct {
	Mode protocol.Mode
	// Dir restricts the run to jobs logging under it; empty means all jobs.
	Dir string
	// SampleInterval is the resource sampling period in watch mode.
	SampleInterval time.Duration
}

const defaultSampleInterval = time.Second

// Deps are the collaborators wired by the caller.
type Deps struct {
	// Inbox receives every reply from the roles.
	Inbox    queue.Mailbox
	Analyzer Endpoint
	Sampler  Endpoint
	Stamper  *protocol.Stamper
	Emitter  progress.Emitter
	Clock    protocol.Clock
	Logger   *zap.Logger
}

// Dispatcher is the pipeline orchestrator.
type Dispatcher struct {
	cfg        Config
	inbox      queue.Mailbox
	analyzer   Endpoint
	sampler    Endpoint
	toAnalyzer *worker.Outbox
	toSampler  *worker.Outbox
	emitter    progress.Emitter
	clock      protocol.Clock
	logger     *zap.Logger

	state atomic.Int32
	// pidJobs maps worker pids to job names; owned by the orchestrate loop.
	pidJobs map[int]string
}

// New validates cfg and deps and builds a Dispatcher.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	if deps.Inbox == nil || deps.Analyzer.Mailbox == nil || deps.Sampler.Mailbox == nil {
		return nil, errors.New("dispatcher requires all mailboxes")
	}
	if deps.Analyzer.Role == nil || deps.Sampler.Role == nil {
		return nil, errors.New("dispatcher requires both roles")
	}
	if deps.Stamper == nil || deps.Clock == nil {
		return nil, errors.New("dispatcher requires a stamper and clock")
	}
	if deps.Emitter == nil {
		return nil, errors.New("dispatcher requires an emitter")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:        cfg,
		inbox:      deps.Inbox,
		analyzer:   deps.Analyzer,
		sampler:    deps.Sampler,
		toAnalyzer: worker.NewOutbox(deps.Analyzer.Mailbox, deps.Stamper),
		toSampler:  worker.NewOutbox(deps.Sampler.Mailbox, deps.Stamper),
		emitter:    deps.Emitter,
		clock:      deps.Clock,
		logger:     deps.Logger.Named("dispatcher"),
		pidJobs:    make(map[int]string),
	}, nil
}

// State returns the current lifecycle stage.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

func (d *Dispatcher) setState(s State) {
	prev := State(d.state.Swap(int32(s)))
	if prev != s {
		d.logger.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Run starts the roles and the orchestrator loop and blocks until the run
// ends. Print mode ends after the report; watch mode runs until ctx is
// cancelled, in which case ctx's error is returned. A failing role cancels
// the others and its error is returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, ep := range []Endpoint{d.analyzer, d.sampler} {
		g.Go(func() error {
			if err := ep.Role.Run(gctx); err != nil {
				return fmt.Errorf("%s role: %w", ep.Role.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return d.orchestrate(gctx)
	})

	err := g.Wait()
	for _, mb := range []queue.Mailbox{d.inbox, d.analyzer.Mailbox, d.sampler.Mailbox} {
		mb.Close()
	}
	d.setState(Terminated)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (d *Dispatcher) orchestrate(ctx context.Context) error {
	d.setState(Discovering)
	req := protocol.DiscoverJobs{ExitAfterReply: d.cfg.Mode == protocol.ModePrint}
	if err := d.toSampler.Send(ctx, req); err != nil {
		return d.sendFailed(ctx, err)
	}

	for {
		env, err := d.inbox.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrMailboxClosed) {
				return nil
			}
			return fmt.Errorf("orchestrator dequeue: %w", err)
		}
		done, err := d.handle(ctx, env)
		if err != nil {
			return d.sendFailed(ctx, err)
		}
		if done {
			return nil
		}
	}
}

func (d *Dispatcher) sendFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (d *Dispatcher) handle(ctx context.Context, env protocol.Envelope) (bool, error) {
	switch p := env.Payload.(type) {
	case protocol.JobsFound:
		return false, d.dispatch(ctx, p.Jobs)
	case protocol.ProgressUpdate:
		d.emit(progress.Event{
			Job:     p.Name,
			Stage:   progress.StageProgress,
			Percent: p.Percent,
			Title:   p.Title,
			State:   p.State,
		})
	case protocol.PhaseStatsUpdate:
		for _, name := range sortedKeys(p.Stats) {
			d.emit(progress.Event{Job: name, Stage: progress.StagePhaseStats, Samples: p.Stats[name]})
		}
	case protocol.ResourceSnapshot:
		d.relayResources(p)
	case protocol.JobSummary:
		d.emit(progress.Event{
			Job:     p.Name,
			Stage:   progress.StageSummary,
			Percent: aggregator.PercentComplete(p.State),
			Title:   aggregator.Title(p.Name, p.State),
			State:   p.State,
			Note:    p.Line,
		})
	case protocol.JobError:
		d.logger.Warn("job failed", zap.String("job", p.Name), zap.String("reason", p.Reason))
		d.emit(progress.Event{Job: p.Name, Stage: progress.StageJobError, Note: p.Reason})
	case protocol.AnalysisDone:
		d.logger.Info("report complete", zap.Int("jobs", p.Jobs))
		return true, nil
	default:
		d.logger.Warn("orchestrator ignoring envelope", zap.String("kind", string(env.Kind)))
	}
	return false, nil
}

// dispatch filters the discovered jobs and hands the started ones to the
// analyzer. Jobs without a worker process are reported as not started.
func (d *Dispatcher) dispatch(ctx context.Context, found map[string]discovery.JobDescriptor) error {
	jobs := discovery.FilterByDir(found, d.cfg.Dir)
	d.logger.Info("jobs discovered", zap.Int("found", len(found)), zap.Int("selected", len(jobs)))

	refs := make([]protocol.JobRef, 0, len(jobs))
	for _, name := range sortedKeys(jobs) {
		job := jobs[name]
		if !job.Started() {
			d.logger.Warn("job has no worker process", zap.String("job", name), zap.String("log", job.LogPath))
			d.emit(progress.Event{Job: name, Stage: progress.StageNotStarted, Percent: aggregator.UnknownIndex})
			continue
		}
		d.pidJobs[job.Process.PID] = name
		refs = append(refs, protocol.JobRef{LogPath: job.LogPath, Name: name})
	}

	if err := d.toAnalyzer.Send(ctx, protocol.Analyze{Mode: d.cfg.Mode, Jobs: refs}); err != nil {
		return err
	}
	d.setState(Dispatched)

	if d.cfg.Mode == protocol.ModePrint {
		d.setState(Reporting)
		return nil
	}
	req := protocol.MonitorResources{
		IntervalMillis: int(d.cfg.SampleInterval.Milliseconds()),
		PIDs:           discovery.PIDs(jobs),
	}
	if err := d.toSampler.Send(ctx, req); err != nil {
		return err
	}
	d.setState(Streaming)
	return nil
}

func (d *Dispatcher) relayResources(snap protocol.ResourceSnapshot) {
	pids := make([]int, 0, len(snap.Usage))
	for pid := range snap.Usage {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	for _, pid := range pids {
		name, ok := d.pidJobs[pid]
		if !ok {
			continue
		}
		usage := snap.Usage[pid]
		d.emit(progress.Event{
			Job:         name,
			TS:          snap.TS,
			Stage:       progress.StageResources,
			PID:         pid,
			CPUPercent:  usage.CPUPercent,
			MemoryBytes: usage.MemoryBytes,
		})
	}
	for pid, reason := range snap.Errors {
		d.logger.Debug("resource sample failed",
			zap.Int("pid", pid), zap.String("job", d.pidJobs[pid]), zap.String("reason", reason))
	}
}

func (d *Dispatcher) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = d.clock.Now()
	}
	d.emitter.Emit(evt)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

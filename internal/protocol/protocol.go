// Package protocol defines the closed set of typed messages exchanged between
// the orchestrator and its worker roles. Every payload is a self-contained
// value: Stamp deep-copies maps and slices so a sender can keep mutating its
// own state after a message leaves.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/plotmon/internal/aggregator"
	"github.com/JakeFAU/plotmon/internal/discovery"
	"github.com/JakeFAU/plotmon/internal/stats"
)

// Kind identifies the payload carried by an Envelope.
type Kind string

// Supported message kinds.
const (
	KindDiscoverJobs     Kind = "DISCOVER_JOBS"
	KindJobsFound        Kind = "JOBS_FOUND"
	KindMonitorResources Kind = "MONITOR_RESOURCES"
	KindResourceSnapshot Kind = "RESOURCE_SNAPSHOT"
	KindAnalyze          Kind = "ANALYZE"
	KindProgressUpdate   Kind = "PROGRESS_UPDATE"
	KindPhaseStatsUpdate Kind = "PHASE_STATS_UPDATE"
	KindJobSummary       Kind = "JOB_SUMMARY"
	KindJobError         Kind = "JOB_ERROR"
	KindAnalysisDone     Kind = "ANALYSIS_DONE"
)

// Mode selects between a one-shot report and continuous monitoring.
type Mode string

// Pipeline modes.
const (
	ModePrint Mode = "print"
	ModeWatch Mode = "watch"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModePrint || m == ModeWatch
}

// Payload is implemented only by the message types in this package.
type Payload interface {
	Kind() Kind
	clone() Payload
}

// Envelope wraps a payload with routing metadata.
type Envelope struct {
	ID      string
	Kind    Kind
	Sent    time.Time
	Payload Payload
}

// Validate performs coarse validation on an envelope.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return errors.New("envelope id is required")
	}
	if e.Payload == nil {
		return errors.New("payload is required")
	}
	if e.Kind != e.Payload.Kind() {
		return fmt.Errorf("kind %q does not match payload %q", e.Kind, e.Payload.Kind())
	}
	return nil
}

// As extracts the payload of env as T.
func As[T Payload](env Envelope) (T, bool) {
	p, ok := env.Payload.(T)
	return p, ok
}

// IDGenerator creates envelope identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Stamper wraps payloads into envelopes.
type Stamper struct {
	ids   IDGenerator
	clock Clock
}

// NewStamper builds a Stamper.
func NewStamper(ids IDGenerator, clock Clock) *Stamper {
	return &Stamper{ids: ids, clock: clock}
}

// Stamp assigns an id and timestamp to a copy of p.
func (s *Stamper) Stamp(p Payload) (Envelope, error) {
	if p == nil {
		return Envelope{}, errors.New("stamp: nil payload")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Envelope{}, fmt.Errorf("stamp %s: %w", p.Kind(), err)
	}
	return Envelope{
		ID:      id,
		Kind:    p.Kind(),
		Sent:    s.clock.Now(),
		Payload: p.clone(),
	}, nil
}

// DiscoverJobs asks the sampler role for one discovery cycle.
type DiscoverJobs struct {
	// ExitAfterReply makes the sampler stop once JobsFound is sent.
	ExitAfterReply bool
}

// Kind implements Payload.
func (DiscoverJobs) Kind() Kind       { return KindDiscoverJobs }
func (p DiscoverJobs) clone() Payload { return p }

// JobsFound carries the result of a discovery cycle.
type JobsFound struct {
	Jobs map[string]discovery.JobDescriptor
}

// Kind implements Payload.
func (JobsFound) Kind() Kind { return KindJobsFound }

func (p JobsFound) clone() Payload {
	jobs := make(map[string]discovery.JobDescriptor, len(p.Jobs))
	for name, job := range p.Jobs {
		jobs[name] = job.Clone()
	}
	return JobsFound{Jobs: jobs}
}

// MonitorResources starts periodic sampling of PIDs.
type MonitorResources struct {
	IntervalMillis int
	PIDs           []int
}

// Kind implements Payload.
func (MonitorResources) Kind() Kind { return KindMonitorResources }

func (p MonitorResources) clone() Payload {
	p.PIDs = append([]int(nil), p.PIDs...)
	return p
}

// Interval returns IntervalMillis as a duration.
func (p MonitorResources) Interval() time.Duration {
	return time.Duration(p.IntervalMillis) * time.Millisecond
}

// ResourceSnapshot is one sampling cycle. Errors holds the failure text of
// pids that could not be read.
type ResourceSnapshot struct {
	TS     time.Time
	Usage  map[int]discovery.Usage
	Errors map[int]string
}

// Kind implements Payload.
func (ResourceSnapshot) Kind() Kind { return KindResourceSnapshot }

func (p ResourceSnapshot) clone() Payload {
	usage := make(map[int]discovery.Usage, len(p.Usage))
	for pid, u := range p.Usage {
		usage[pid] = u
	}
	errs := make(map[int]string, len(p.Errors))
	for pid, e := range p.Errors {
		errs[pid] = e
	}
	return ResourceSnapshot{TS: p.TS, Usage: usage, Errors: errs}
}

// SnapshotFrom converts a sampler snapshot into a message payload.
func SnapshotFrom(s discovery.Snapshot) ResourceSnapshot {
	out := ResourceSnapshot{TS: s.TS, Usage: s.Usage, Errors: make(map[int]string, len(s.Errors))}
	for pid, err := range s.Errors {
		out.Errors[pid] = err.Error()
	}
	return out
}

// JobRef points the analyzer at one job's log.
type JobRef struct {
	LogPath string
	Name    string
}

// Analyze hands the analyzer the jobs to follow, ordered by name.
type Analyze struct {
	Mode Mode
	Jobs []JobRef
}

// Kind implements Payload.
func (Analyze) Kind() Kind { return KindAnalyze }

func (p Analyze) clone() Payload {
	p.Jobs = append([]JobRef(nil), p.Jobs...)
	return p
}

// ProgressUpdate reports a job's progress after replay or a live line.
type ProgressUpdate struct {
	Name    string
	Percent int
	Title   string
	State   aggregator.State
}

// Kind implements Payload.
func (ProgressUpdate) Kind() Kind       { return KindProgressUpdate }
func (p ProgressUpdate) clone() Payload { return p }

// NewProgressUpdate derives the update for a job state.
func NewProgressUpdate(name string, s aggregator.State) ProgressUpdate {
	return ProgressUpdate{
		Name:    name,
		Percent: aggregator.PercentComplete(s),
		Title:   aggregator.Title(name, s),
		State:   s,
	}
}

// PhaseStatsUpdate carries the timing samples collected so far, keyed by job.
type PhaseStatsUpdate struct {
	Stats map[string]stats.JobSamples
}

// Kind implements Payload.
func (PhaseStatsUpdate) Kind() Kind { return KindPhaseStatsUpdate }

func (p PhaseStatsUpdate) clone() Payload {
	out := make(map[string]stats.JobSamples, len(p.Stats))
	for job, samples := range p.Stats {
		out[job] = samples.Clone()
	}
	return PhaseStatsUpdate{Stats: out}
}

// JobSummary is the one-shot report line for a job in print mode.
type JobSummary struct {
	Name  string
	Line  string
	State aggregator.State
}

// Kind implements Payload.
func (JobSummary) Kind() Kind       { return KindJobSummary }
func (p JobSummary) clone() Payload { return p }

// JobError reports a per-job failure that does not stop the pipeline.
type JobError struct {
	Name   string
	Reason string
}

// Kind implements Payload.
func (JobError) Kind() Kind       { return KindJobError }
func (p JobError) clone() Payload { return p }

// AnalysisDone marks the end of a print-mode analysis.
type AnalysisDone struct {
	Jobs int
}

// Kind implements Payload.
func (AnalysisDone) Kind() Kind       { return KindAnalysisDone }
func (p AnalysisDone) clone() Payload { return p }

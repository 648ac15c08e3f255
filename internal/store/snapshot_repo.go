package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/plotmon/internal/aggregator"
	"github.com/JakeFAU/plotmon/internal/stats"
)

// ErrNotFound signals that the requested job is unknown.
var ErrNotFound = errors.New("job snapshot not found")

// JobStatus is the coarse lifecycle of a monitored job.
type JobStatus string

// Job statuses.
const (
	StatusNotStarted JobStatus = "not_started"
	StatusRunning    JobStatus = "running"
	StatusDone       JobStatus = "done"
	StatusFailed     JobStatus = "failed"
)

// Progress is the rendered progress of a job.
type Progress struct {
	Percent int              `json:"percent"`
	Title   string           `json:"title"`
	State   aggregator.State `json:"state"`
}

// Resources is the latest resource sample of a job's worker.
type Resources struct {
	PID         int       `json:"pid"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryBytes uint64    `json:"memory_bytes"`
	SampledAt   time.Time `json:"sampled_at"`
}

// JobSnapshot is everything known about one job.
type JobSnapshot struct {
	Name      string                   `json:"name"`
	Status    JobStatus                `json:"status"`
	Progress  *Progress                `json:"progress,omitempty"`
	Phases    map[string]stats.Summary `json:"phases,omitempty"`
	Resources *Resources               `json:"resources,omitempty"`
	// Note is the latest summary line or failure reason.
	Note      string    `json:"note,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotRepository keeps the latest snapshot per job.
type SnapshotRepository interface {
	// UpsertProgress records a progress update and marks the job running.
	UpsertProgress(ctx context.Context, job string, p Progress, at time.Time) error
	// UpsertPhases replaces the per-phase timing summaries.
	UpsertPhases(ctx context.Context, job string, phases map[string]stats.Summary, at time.Time) error
	// UpsertResources records the latest worker sample.
	UpsertResources(ctx context.Context, job string, r Resources) error
	// SetStatus moves the job to status with an optional note.
	SetStatus(ctx context.Context, job string, status JobStatus, note string, at time.Time) error

	// GetJob loads a single job or returns ErrNotFound.
	GetJob(ctx context.Context, job string) (JobSnapshot, error)
	// ListJobs returns every job ordered by name, optionally filtered by status.
	ListJobs(ctx context.Context, status *JobStatus) ([]JobSnapshot, error)
}

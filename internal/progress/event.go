package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/plotmon/internal/aggregator"
	"github.com/JakeFAU/plotmon/internal/stats"
)

// Stage denotes the kind of update represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageNotStarted Stage = "JOB_NOT_STARTED"
	StageProgress   Stage = "JOB_PROGRESS"
	StagePhaseStats Stage = "JOB_PHASE_STATS"
	StageResources  Stage = "JOB_RESOURCES"
	StageSummary    Stage = "JOB_SUMMARY"
	StageJobError   Stage = "JOB_ERROR"
)

// Event captures a single presentation update for one job.
type Event struct {
	// Job is the plot job name.
	Job string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which kind of update occurred.
	Stage Stage
	// Percent is the rounded completion, -1 while the phase is unknown.
	Percent int
	// Title is the rendered display title.
	Title string
	// State is the aggregated progress.
	State aggregator.State
	// Samples holds the job's phase timing samples for StagePhaseStats.
	Samples stats.JobSamples
	// PID, CPUPercent and MemoryBytes describe the worker for StageResources.
	PID         int
	CPUPercent  float64
	MemoryBytes uint64
	// Note carries the summary line or the failure reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Job == "" {
		return errors.New("job name is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageNotStarted, StagePhaseStats:
	case StageProgress:
		if e.Percent < aggregator.UnknownIndex || e.Percent > 100 {
			return fmt.Errorf("percent %d out of range", e.Percent)
		}
	case StageResources:
		if e.PID <= 0 {
			return errors.New("resources require a pid")
		}
		if e.CPUPercent < 0 {
			return errors.New("cpu percent must be >= 0")
		}
	case StageSummary, StageJobError:
		if e.Note == "" {
			return fmt.Errorf("%s requires a note", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}

// Package aggregator folds parsed log lines into a per-job progress state and
// derives the cumulative progress index, percentage, and display strings from
// it. A Tracker owns exactly one job's state and performs no I/O beyond
// reading the lines it is handed.
package aggregator

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/JakeFAU/plotmon/internal/logparse"
	"github.com/JakeFAU/plotmon/internal/phase"
	"github.com/JakeFAU/plotmon/internal/stats"
)

// UnknownIndex is returned for jobs whose log has not reported a recognised line.
const UnknownIndex = -1

// SpinnerFrames are cycled once per observed live line.
var SpinnerFrames = []rune("◴◷◶◵")

// maxLineBytes bounds a single log line during replay.
const maxLineBytes = 1 << 20

// State is the progress of one job.
type State struct {
	Phase          phase.Phase `json:"phase"`
	Stage          int         `json:"stage"`
	CompletedCount int         `json:"completed_count"`
	SpinnerIndex   int         `json:"spinner_index"`
}

// Known reports whether a recognised line has been seen.
func (s State) Known() bool {
	return s.Phase != phase.None
}

// Tracker is the mutable state machine for one job. It is not safe for
// concurrent use; each job's lines are applied by a single goroutine.
type Tracker struct {
	job     string
	state   State
	samples *stats.Collector
}

// NewTracker builds a Tracker for job. Timing samples found in the lines are
// appended to samples when it is non-nil.
func NewTracker(job string, samples *stats.Collector) *Tracker {
	return &Tracker{job: job, samples: samples}
}

// Job returns the tracked job name.
func (t *Tracker) Job() string {
	return t.job
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	return t.state
}

// Replay folds a finite history of lines into the state, skipping
// continuation lines. The spinner is not advanced.
func (t *Tracker) Replay(lines []string) State {
	for _, line := range lines {
		t.replayLine(line)
	}
	return t.state
}

// ReplayReader replays every line readable from r until EOF.
func (t *Tracker) ReplayReader(r io.Reader) (State, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		t.replayLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return t.state, fmt.Errorf("replay %s: %w", t.job, err)
	}
	return t.state, nil
}

func (t *Tracker) replayLine(line string) {
	if logparse.IsContinuation(line) {
		return
	}
	t.apply(line)
}

// Advance applies one newly observed line and advances the spinner.
// Continuation lines only move the spinner. The returned bool reports whether
// a timing sample was recorded.
func (t *Tracker) Advance(line string) (State, bool) {
	var sampled bool
	if !logparse.IsContinuation(line) {
		sampled = t.apply(line)
	}
	t.state.SpinnerIndex = (t.state.SpinnerIndex + 1) % len(SpinnerFrames)
	return t.state, sampled
}

func (t *Tracker) apply(line string) bool {
	u := logparse.Parse(line, t.state.Phase)
	if u.HasPhase {
		t.state.Phase = u.Phase
	}
	if u.HasStage {
		t.state.Stage = u.Stage
	}
	if u.Completed {
		t.state.CompletedCount++
	}
	if t.samples == nil {
		return false
	}
	sample, ok := logparse.ExtractStats(line)
	if ok {
		t.samples.Add(t.job, sample)
	}
	return ok
}

// CumulativeIndex is the phase offset plus the stage, or UnknownIndex when
// the phase is undefined.
func CumulativeIndex(s State) int {
	d, ok := phase.Lookup(s.Phase)
	if !ok {
		return UnknownIndex
	}
	return d.CumulativeOffset + s.Stage
}

// PercentComplete rounds the cumulative index onto a 0-100 scale. It returns
// UnknownIndex when the phase is undefined.
func PercentComplete(s State) int {
	idx := CumulativeIndex(s)
	if idx == UnknownIndex {
		return UnknownIndex
	}
	return int(math.Round(float64(idx) / phase.TotalProgress * 100))
}

// Title renders the live display title, e.g. "◴ [plot-1 ( 9/22)] Backpropagating (phase 2/4)".
func Title(name string, s State) string {
	frame := SpinnerFrames[s.SpinnerIndex%len(SpinnerFrames)]
	idx := CumulativeIndex(s)
	if idx == UnknownIndex {
		return fmt.Sprintf("%c [%s ( ?/%d)] %s", frame, name, phase.TotalProgress, s.Phase)
	}
	return fmt.Sprintf("%c [%s (%2d/%d)] %s", frame, name, idx, phase.TotalProgress, s.Phase)
}

// Summary renders the one-line print mode report for a job.
func Summary(name string, s State) string {
	d, ok := phase.Lookup(s.Phase)
	if !ok {
		return fmt.Sprintf("[%s] Done %d. No recognised progress yet", name, s.CompletedCount)
	}
	return fmt.Sprintf("[%s] Done %d. Current plot in phase %d stage %d/%d",
		name, s.CompletedCount, int(s.Phase), s.Stage, d.Steps)
}

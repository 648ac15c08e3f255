// Package logparse turns raw plotter log lines into phase transitions and
// timing samples. It performs no I/O and keeps no state.
package logparse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/plotmon/internal/phase"
	"github.com/JakeFAU/plotmon/internal/stats"
)

const (
	startingPhasePrefix = "Starting phase "
	copyPhasePrefix     = "Time for phase 4"
	renamedPrefix       = "Renamed final file"
	timeForPhasePrefix  = "Time for phase"
)

// Update is the result of parsing one line. HasPhase and HasStage are false
// when the line carries no update for that field, which is distinct from a
// zero stage.
type Update struct {
	Phase     phase.Phase
	HasPhase  bool
	Stage     int
	HasStage  bool
	Completed bool
}

// Changed reports whether the update carries any state transition.
func (u Update) Changed() bool {
	return u.HasPhase || u.HasStage || u.Completed
}

// Parse maps a line and the job's current phase to the resulting transition.
// Rules are checked in priority order; the first match wins.
func Parse(line string, current phase.Phase) Update {
	line = strings.TrimLeft(line, " \t\r\n\v\f")

	switch {
	case strings.HasPrefix(line, startingPhasePrefix):
		d, ok := digitAt(line, len(startingPhasePrefix))
		if !ok || !phase.Phase(d).Valid() {
			return Update{}
		}
		return Update{Phase: phase.Phase(d), HasPhase: true, HasStage: true}
	case strings.HasPrefix(line, copyPhasePrefix):
		return Update{Phase: phase.Copying, HasPhase: true, HasStage: true}
	case strings.HasPrefix(line, renamedPrefix):
		return Update{Phase: phase.Done, HasPhase: true, HasStage: true, Completed: true}
	}

	if !current.HasSubSteps() {
		return Update{}
	}
	desc, _ := phase.Lookup(current)
	if !strings.HasPrefix(line, desc.LinePattern) {
		return Update{}
	}
	d, ok := digitAt(line, len(desc.LinePattern))
	if !ok {
		return Update{}
	}
	stage := d
	if current == phase.Backpropagating {
		// backpropagation walks the tables downwards from 7
		stage = 8 - d
	}
	return Update{Stage: stage, HasStage: true}
}

// IsContinuation reports whether line is a tab-indented detail line that bulk
// replay skips.
func IsContinuation(line string) bool {
	return strings.HasPrefix(line, "\t")
}

func digitAt(line string, idx int) (int, bool) {
	if idx >= len(line) {
		return 0, false
	}
	c := line[idx]
	if c < '0' || c > '9' {
		return 0, false
	}
	return int(c - '0'), true
}

var timeForPhaseRE = regexp.MustCompile(`^Time for phase (\d+) = (\d+(?:\.\d+)?) seconds\. CPU \((\d+(?:\.\d+)?)%\)`)

// ExtractStats mines a timing sample out of a "Time for phase" summary line.
// Lines that do not carry the prefix are rejected before the regexp runs.
func ExtractStats(line string) (stats.Sample, bool) {
	line = strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(line, timeForPhasePrefix) {
		return stats.Sample{}, false
	}
	m := timeForPhaseRE.FindStringSubmatch(line)
	if m == nil {
		return stats.Sample{}, false
	}
	elapsed, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return stats.Sample{}, false
	}
	cpu, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return stats.Sample{}, false
	}
	return stats.Sample{
		PhaseLabel:     "phase " + m[1],
		ElapsedSeconds: elapsed,
		CPUPercent:     cpu,
	}, true
}

// Package phase defines the fixed catalogue of plotting phases and the
// cumulative progress scale derived from it.
package phase

import "fmt"

// Phase enumerates the lifecycle stages of a plotting job.
type Phase int

// Known phases. None is the sentinel for "no recognised line seen yet".
const (
	None Phase = iota
	Computing
	Backpropagating
	Compressing
	WritingCheckpoints
	Copying
	Done
)

// TotalProgress is the cumulative index reached when a plot is done.
const TotalProgress = 22

// Descriptor describes one phase of the table.
type Descriptor struct {
	Name             string
	Steps            int
	CumulativeOffset int
	// LinePattern prefixes the sub-step lines of phases 1-3; empty otherwise.
	LinePattern string
}

var table = map[Phase]Descriptor{
	Computing:          {Name: "Computing (phase 1/4)", Steps: 7, CumulativeOffset: 0, LinePattern: "Computing table "},
	Backpropagating:    {Name: "Backpropagating (phase 2/4)", Steps: 6, CumulativeOffset: 7, LinePattern: "Backpropagating on table "},
	Compressing:        {Name: "Compressing (phase 3/4)", Steps: 6, CumulativeOffset: 13, LinePattern: "Compressing tables "},
	WritingCheckpoints: {Name: "Writing checkpoints (phase 4/4)", Steps: 1, CumulativeOffset: 20},
	Copying:            {Name: "Copying", Steps: 1, CumulativeOffset: 21},
	Done:               {Name: "Done", Steps: 1, CumulativeOffset: 22},
}

// Valid reports whether p has a descriptor.
func (p Phase) Valid() bool {
	_, ok := table[p]
	return ok
}

// Lookup returns the descriptor for p.
func Lookup(p Phase) (Descriptor, bool) {
	d, ok := table[p]
	return d, ok
}

// HasSubSteps reports whether p reports sub-step lines via a LinePattern.
func (p Phase) HasSubSteps() bool {
	return p >= Computing && p <= Compressing
}

// All returns the known phases in table order.
func All() []Phase {
	return []Phase{Computing, Backpropagating, Compressing, WritingCheckpoints, Copying, Done}
}

func (p Phase) String() string {
	if d, ok := table[p]; ok {
		return d.Name
	}
	if p == None {
		return "unknown"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

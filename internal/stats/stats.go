// Package stats accumulates per-phase timing samples mined from plot logs and
// computes descriptive statistics over them.
package stats

import (
	"errors"
	"math"
	"sync"
)

// ErrNoSamples is returned by Describe when given an empty sample set.
var ErrNoSamples = errors.New("no samples")

// Sample is one "Time for phase" observation. Samples are immutable once created.
type Sample struct {
	PhaseLabel     string  `json:"phase_label"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	CPUPercent     float64 `json:"cpu_percent"`
}

// Channel holds the mean and population standard deviation of one measurement.
type Channel struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Summary describes a sample set on both the CPU and elapsed-time channels.
type Summary struct {
	Count   int     `json:"count"`
	CPU     Channel `json:"cpu"`
	Elapsed Channel `json:"elapsed"`
}

// Describe computes mean and population standard deviation (divide by n) for
// both channels, rounded to 3 decimal places.
func Describe(samples []Sample) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, ErrNoSamples
	}
	cpu := make([]float64, len(samples))
	elapsed := make([]float64, len(samples))
	for i, s := range samples {
		cpu[i] = s.CPUPercent
		elapsed[i] = s.ElapsedSeconds
	}
	return Summary{
		Count:   len(samples),
		CPU:     describeChannel(cpu),
		Elapsed: describeChannel(elapsed),
	}, nil
}

func describeChannel(values []float64) Channel {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return Channel{
		Mean:   round3(mean),
		StdDev: round3(math.Sqrt(sq / n)),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// JobSamples maps phase labels to their samples in insertion order.
type JobSamples map[string][]Sample

// Collector stores samples keyed by (job, phase label). It is safe for
// concurrent use.
type Collector struct {
	mu      sync.Mutex
	samples map[string]JobSamples
	order   map[string][]string
}

// NewCollector constructs an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		samples: make(map[string]JobSamples),
		order:   make(map[string][]string),
	}
}

// Add appends a sample for job.
func (c *Collector) Add(job string, s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byLabel, ok := c.samples[job]
	if !ok {
		byLabel = make(JobSamples)
		c.samples[job] = byLabel
	}
	if _, seen := byLabel[s.PhaseLabel]; !seen {
		c.order[job] = append(c.order[job], s.PhaseLabel)
	}
	byLabel[s.PhaseLabel] = append(byLabel[s.PhaseLabel], s)
}

// Labels returns the phase labels recorded for job in first-seen order.
func (c *Collector) Labels(job string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order[job]...)
}

// Snapshot returns a deep copy of every job's samples.
func (c *Collector) Snapshot() map[string]JobSamples {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]JobSamples, len(c.samples))
	for job, byLabel := range c.samples {
		out[job] = byLabel.Clone()
	}
	return out
}

// Job returns a deep copy of one job's samples, or nil when none were recorded.
func (c *Collector) Job(job string) JobSamples {
	c.mu.Lock()
	defer c.mu.Unlock()
	byLabel, ok := c.samples[job]
	if !ok {
		return nil
	}
	return byLabel.Clone()
}

// Clone deep-copies the sample lists.
func (j JobSamples) Clone() JobSamples {
	if j == nil {
		return nil
	}
	out := make(JobSamples, len(j))
	for label, list := range j {
		out[label] = append([]Sample(nil), list...)
	}
	return out
}

// Summaries describes every label that has at least one sample.
func (j JobSamples) Summaries() map[string]Summary {
	out := make(map[string]Summary, len(j))
	for label, list := range j {
		if s, err := Describe(list); err == nil {
			out[label] = s
		}
	}
	return out
}

// Package discovery finds running plot jobs in the OS process table, recovers
// their launch parameters and log locations, and samples the CPU and memory
// usage of their worker processes.
package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Process is one row of the OS process table.
type Process struct {
	PID         int
	Name        string
	CommandLine string
}

// ProcessTable enumerates the processes currently running.
type ProcessTable interface {
	Snapshot(ctx context.Context) ([]Process, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// ProcessHandle identifies the resource-bearing process of a job.
type ProcessHandle struct {
	PID         int     `json:"pid"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
}

// JobDescriptor describes one discovered plot job. Process is nil when no
// worker process was found, i.e. the job is queued but not yet started.
type JobDescriptor struct {
	Name       string            `json:"name"`
	LogPath    string            `json:"log_path"`
	LaunchArgs map[string]string `json:"launch_args"`
	Process    *ProcessHandle    `json:"process,omitempty"`
}

// Started reports whether a worker process is attached.
func (j JobDescriptor) Started() bool {
	return j.Process != nil
}

// Clone returns a deep copy of the descriptor.
func (j JobDescriptor) Clone() JobDescriptor {
	cp := j
	if j.LaunchArgs != nil {
		cp.LaunchArgs = make(map[string]string, len(j.LaunchArgs))
		for k, v := range j.LaunchArgs {
			cp.LaunchArgs[k] = v
		}
	}
	if j.Process != nil {
		h := *j.Process
		cp.Process = &h
	}
	return cp
}

// Discoverer combines a process table and a matching strategy into job
// descriptors.
type Discoverer struct {
	table   ProcessTable
	matcher Matcher
	sampler *Sampler
	logger  *zap.Logger
}

// NewDiscoverer wires the collaborators. sampler may be nil, in which case
// attached process handles carry zero usage.
func NewDiscoverer(table ProcessTable, matcher Matcher, sampler *Sampler, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		table:   table,
		matcher: matcher,
		sampler: sampler,
		logger:  logger,
	}
}

// DiscoverJobs runs one discovery cycle. A session without a worker process is
// returned with a nil Process rather than failing the cycle.
func (d *Discoverer) DiscoverJobs(ctx context.Context) (map[string]JobDescriptor, error) {
	procs, err := d.table.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot process table: %w", err)
	}

	sessions := make(map[string]Session)
	for _, p := range procs {
		s, ok := d.matcher.MatchSession(p)
		if !ok {
			continue
		}
		if _, dup := sessions[s.Name]; dup {
			d.logger.Warn("duplicate plot session name", zap.String("job", s.Name), zap.Int("pid", p.PID))
			continue
		}
		sessions[s.Name] = s
	}

	jobs := make(map[string]JobDescriptor, len(sessions))
	for name, s := range sessions {
		jobs[name] = JobDescriptor{Name: name, LogPath: s.LogPath, LaunchArgs: s.Args}
	}

	names := sortedNames(sessions)
	var pids []int
	for _, p := range procs {
		for _, name := range names {
			job := jobs[name]
			if job.Process != nil || !d.matcher.MatchWorker(p, sessions[name]) {
				continue
			}
			job.Process = &ProcessHandle{PID: p.PID}
			jobs[name] = job
			pids = append(pids, p.PID)
			break
		}
	}

	if d.sampler != nil && len(pids) > 0 {
		snap := d.sampler.Sample(ctx, pids)
		for name, job := range jobs {
			if job.Process == nil {
				continue
			}
			if usage, ok := snap.Usage[job.Process.PID]; ok {
				job.Process.CPUPercent = usage.CPUPercent
				job.Process.MemoryBytes = usage.MemoryBytes
				jobs[name] = job
			}
		}
	}

	d.logger.Debug("discovery cycle complete", zap.Int("jobs", len(jobs)), zap.Int("workers", len(pids)))
	return jobs, nil
}

// FilterByDir keeps the jobs whose log file lives under dir. An empty dir
// keeps every job.
func FilterByDir(jobs map[string]JobDescriptor, dir string) map[string]JobDescriptor {
	if dir == "" {
		return jobs
	}
	root := filepath.Clean(dir)
	out := make(map[string]JobDescriptor, len(jobs))
	for name, job := range jobs {
		rel, err := filepath.Rel(root, filepath.Clean(job.LogPath))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		out[name] = job
	}
	return out
}

// PIDs returns the worker pids of the started jobs in ascending order.
func PIDs(jobs map[string]JobDescriptor) []int {
	pids := make([]int, 0, len(jobs))
	for _, job := range jobs {
		if job.Process != nil {
			pids = append(pids, job.Process.PID)
		}
	}
	sort.Ints(pids)
	return pids
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

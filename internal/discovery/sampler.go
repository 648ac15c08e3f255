package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoInterval is returned by Monitor when the sampling period is not positive.
var ErrNoInterval = errors.New("sampling interval must be > 0")

// ProcessTimes is the raw accounting of one process at a point in time.
type ProcessTimes struct {
	// CPUSeconds is user plus system time consumed since start.
	CPUSeconds float64
	StartTime  time.Time
	// MemoryBytes is the resident set size.
	MemoryBytes uint64
}

// ResourceReader reads the accounting for a single pid.
type ResourceReader interface {
	ReadProcess(pid int) (ProcessTimes, error)
}

// Usage is the sampled load of one process.
type Usage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
}

// Snapshot is one sampling cycle. Pids that could not be read are reported in
// Errors; they never abort the batch.
type Snapshot struct {
	TS     time.Time
	Took   time.Duration
	Usage  map[int]Usage
	Errors map[int]error
}

type cpuMark struct {
	cpu float64
	at  time.Time
}

// Sampler turns cumulative CPU time into a utilisation percentage between
// successive samples of the same pid.
type Sampler struct {
	reader  ResourceReader
	clock   Clock
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	prev map[int]cpuMark
}

// NewSampler constructs a Sampler. timeout bounds each Monitor cycle; zero
// leaves cycles bounded only by the caller's context.
func NewSampler(reader ResourceReader, clock Clock, timeout time.Duration, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sampler{
		reader:  reader,
		clock:   clock,
		timeout: timeout,
		logger:  logger,
		prev:    make(map[int]cpuMark),
	}
}

// Sample reads every pid once. The first sample of a pid reports the average
// utilisation over the process lifetime.
func (s *Sampler) Sample(ctx context.Context, pids []int) Snapshot {
	snap := Snapshot{
		TS:     s.clock.Now(),
		Usage:  make(map[int]Usage, len(pids)),
		Errors: make(map[int]error),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[int]struct{}, len(pids))
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			snap.Errors[pid] = fmt.Errorf("sample pid %d: %w", pid, err)
			continue
		}
		live[pid] = struct{}{}
		times, err := s.reader.ReadProcess(pid)
		if err != nil {
			delete(s.prev, pid)
			snap.Errors[pid] = fmt.Errorf("sample pid %d: %w", pid, err)
			continue
		}
		now := s.clock.Now()
		snap.Usage[pid] = Usage{
			CPUPercent:  s.cpuPercent(pid, times, now),
			MemoryBytes: times.MemoryBytes,
		}
		s.prev[pid] = cpuMark{cpu: times.CPUSeconds, at: now}
	}
	for pid := range s.prev {
		if _, ok := live[pid]; !ok {
			delete(s.prev, pid)
		}
	}
	snap.Took = s.clock.Now().Sub(snap.TS)
	return snap
}

func (s *Sampler) cpuPercent(pid int, times ProcessTimes, now time.Time) float64 {
	if last, ok := s.prev[pid]; ok {
		wall := now.Sub(last.at).Seconds()
		if wall > 0 && times.CPUSeconds >= last.cpu {
			return (times.CPUSeconds - last.cpu) / wall * 100
		}
	}
	if times.StartTime.IsZero() {
		return 0
	}
	wall := now.Sub(times.StartTime).Seconds()
	if wall <= 0 {
		return 0
	}
	return times.CPUSeconds / wall * 100
}

// Monitor samples pids immediately and then once per interval until ctx is
// done, handing each snapshot to emit. Cycles run on a single goroutine so
// they never overlap; a tick that fires mid-cycle is coalesced by the ticker.
func (s *Sampler) Monitor(ctx context.Context, interval time.Duration, pids []int, emit func(Snapshot)) error {
	if interval <= 0 {
		return ErrNoInterval
	}
	pids = append([]int(nil), pids...)
	sort.Ints(pids)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		emit(s.cycle(ctx, pids))
		select {
		case <-ctx.Done():
			return fmt.Errorf("monitor resources: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Sampler) cycle(ctx context.Context, pids []int) Snapshot {
	cycleCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	snap := s.Sample(cycleCtx, pids)
	if len(snap.Errors) > 0 {
		s.logger.Debug("resource sample had failures", zap.Int("failed", len(snap.Errors)))
	}
	return snap
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/plotmon/internal/phase"
	"github.com/JakeFAU/plotmon/internal/stats"
	"github.com/JakeFAU/plotmon/internal/store"
)

// SnapshotStore keeps the latest snapshot of every job in memory.
type SnapshotStore struct {
	mu   sync.RWMutex
	jobs map[string]store.JobSnapshot
}

// NewSnapshotStore constructs a SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{jobs: make(map[string]store.JobSnapshot)}
}

// UpsertProgress implements store.SnapshotRepository.
func (s *SnapshotStore) UpsertProgress(_ context.Context, job string, p store.Progress, at time.Time) error {
	s.update(job, at, func(snap *store.JobSnapshot) {
		snap.Progress = &p
		switch {
		case snap.Status == store.StatusFailed:
		case p.State.Phase == phase.Done:
			snap.Status = store.StatusDone
		default:
			snap.Status = store.StatusRunning
		}
	})
	return nil
}

// UpsertPhases implements store.SnapshotRepository.
func (s *SnapshotStore) UpsertPhases(_ context.Context, job string, phases map[string]stats.Summary, at time.Time) error {
	cp := make(map[string]stats.Summary, len(phases))
	for label, summary := range phases {
		cp[label] = summary
	}
	s.update(job, at, func(snap *store.JobSnapshot) {
		snap.Phases = cp
	})
	return nil
}

// UpsertResources implements store.SnapshotRepository.
func (s *SnapshotStore) UpsertResources(_ context.Context, job string, r store.Resources) error {
	s.update(job, r.SampledAt, func(snap *store.JobSnapshot) {
		snap.Resources = &r
	})
	return nil
}

// SetStatus implements store.SnapshotRepository.
func (s *SnapshotStore) SetStatus(_ context.Context, job string, status store.JobStatus, note string, at time.Time) error {
	if status == "" {
		return fmt.Errorf("set status for %s: empty status", job)
	}
	s.update(job, at, func(snap *store.JobSnapshot) {
		snap.Status = status
		snap.Note = note
	})
	return nil
}

// GetJob implements store.SnapshotRepository.
func (s *SnapshotStore) GetJob(_ context.Context, job string) (store.JobSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.jobs[job]
	if !ok {
		return store.JobSnapshot{}, fmt.Errorf("get job %s: %w", job, store.ErrNotFound)
	}
	return copySnapshot(snap), nil
}

// ListJobs implements store.SnapshotRepository.
func (s *SnapshotStore) ListJobs(_ context.Context, status *store.JobStatus) ([]store.JobSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.JobSnapshot, 0, len(s.jobs))
	for _, snap := range s.jobs {
		if status != nil && snap.Status != *status {
			continue
		}
		out = append(out, copySnapshot(snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *SnapshotStore) update(job string, at time.Time, fn func(*store.JobSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.jobs[job]
	if !ok {
		snap = store.JobSnapshot{Name: job}
	}
	fn(&snap)
	if at.After(snap.UpdatedAt) {
		snap.UpdatedAt = at
	}
	s.jobs[job] = snap
}

func copySnapshot(snap store.JobSnapshot) store.JobSnapshot {
	if snap.Progress != nil {
		p := *snap.Progress
		snap.Progress = &p
	}
	if snap.Resources != nil {
		r := *snap.Resources
		snap.Resources = &r
	}
	if snap.Phases != nil {
		phases := make(map[string]stats.Summary, len(snap.Phases))
		for label, summary := range snap.Phases {
			phases[label] = summary
		}
		snap.Phases = phases
	}
	return snap
}

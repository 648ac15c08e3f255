package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/plotmon/internal/progress"
	"github.com/JakeFAU/plotmon/internal/store"
)

// StoreSink keeps the status store current so the API can serve the latest
// state of every job.
type StoreSink struct {
	repo   store.SnapshotRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.SnapshotRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies each event to the repository. It respects ctx deadlines and
// returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageProgress:
		p := store.Progress{Percent: evt.Percent, Title: evt.Title, State: evt.State}
		if err := s.repo.UpsertProgress(ctx, evt.Job, p, evt.TS); err != nil {
			return fmt.Errorf("upsert progress: %w", err)
		}
	case progress.StagePhaseStats:
		if err := s.repo.UpsertPhases(ctx, evt.Job, evt.Samples.Summaries(), evt.TS); err != nil {
			return fmt.Errorf("upsert phases: %w", err)
		}
	case progress.StageResources:
		r := store.Resources{
			PID:         evt.PID,
			CPUPercent:  evt.CPUPercent,
			MemoryBytes: evt.MemoryBytes,
			SampledAt:   evt.TS,
		}
		if err := s.repo.UpsertResources(ctx, evt.Job, r); err != nil {
			return fmt.Errorf("upsert resources: %w", err)
		}
	case progress.StageNotStarted:
		if err := s.repo.SetStatus(ctx, evt.Job, store.StatusNotStarted, evt.Note, evt.TS); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
	case progress.StageJobError:
		if err := s.repo.SetStatus(ctx, evt.Job, store.StatusFailed, evt.Note, evt.TS); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
	case progress.StageSummary:
		snap, err := s.repo.GetJob(ctx, evt.Job)
		status := store.StatusRunning
		if err == nil && snap.Status != "" {
			status = snap.Status
		}
		if err := s.repo.SetStatus(ctx, evt.Job, status, evt.Note, evt.TS); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
	default:
		s.logger.Debug("store sink ignoring event", zap.String("stage", string(evt.Stage)))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

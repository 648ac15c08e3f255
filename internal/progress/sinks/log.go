package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/plotmon/internal/progress"
)

// LogSink emits structured logs for every presentation event. It is the
// headless alternative to TerminalSink.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job", evt.Job),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageProgress:
			fields = append(fields,
				zap.Int("percent", evt.Percent),
				zap.Stringer("phase", evt.State.Phase),
				zap.Int("step", evt.State.Stage),
				zap.Int("completed", evt.State.CompletedCount),
			)
		case progress.StagePhaseStats:
			for label, summary := range evt.Samples.Summaries() {
				fields = append(fields, zap.Any(label, summary))
			}
		case progress.StageResources:
			fields = append(fields,
				zap.Int("pid", evt.PID),
				zap.Float64("cpu_percent", evt.CPUPercent),
				zap.Uint64("memory_bytes", evt.MemoryBytes),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageJobError || evt.Stage == progress.StageNotStarted {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/plotmon/internal/aggregator"
	"github.com/JakeFAU/plotmon/internal/phase"
	"github.com/JakeFAU/plotmon/internal/progress"
	"github.com/JakeFAU/plotmon/internal/stats"
)

// TestPrometheusSinkRecordsMetrics ensures gauges and histograms follow the events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	first := stats.JobSamples{"phase 1": {{PhaseLabel: "phase 1", ElapsedSeconds: 3600, CPUPercent: 180}}}
	second := stats.JobSamples{"phase 1": {
		{PhaseLabel: "phase 1", ElapsedSeconds: 3600, CPUPercent: 180},
		{PhaseLabel: "phase 1", ElapsedSeconds: 4000, CPUPercent: 170},
	}}
	batch := []progress.Event{
		{Job: "plot-2", TS: now, Stage: progress.StageNotStarted},
		{Job: "plot-1", TS: now, Stage: progress.StageProgress, Percent: 9,
			State: aggregator.State{Phase: phase.Computing, Stage: 2, CompletedCount: 3}},
		{Job: "plot-1", TS: now, Stage: progress.StageResources, PID: 10, CPUPercent: 187.5, MemoryBytes: 2048},
		{Job: "plot-1", TS: now, Stage: progress.StagePhaseStats, Samples: first},
		{Job: "plot-1", TS: now, Stage: progress.StagePhaseStats, Samples: second},
		{Job: "plot-1", TS: now, Stage: progress.StageJobError, Note: "rotated"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 9.0, testutil.ToFloat64(sink.percent.WithLabelValues("plot-1")), 1e-9)
	require.InDelta(t, 3.0, testutil.ToFloat64(sink.completed.WithLabelValues("plot-1")), 1e-9)
	require.InDelta(t, 187.5, testutil.ToFloat64(sink.cpuPercent.WithLabelValues("plot-1")), 1e-9)
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.memoryBytes.WithLabelValues("plot-1")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.notStarted.WithLabelValues("plot-2")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.notStarted.WithLabelValues("plot-1")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobErrors.WithLabelValues("plot-1")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.phaseDurations, "plotmon_phase_duration_seconds"))

	// each sample is observed once even though stats events repeat history
	require.Equal(t, 2, histogramCount(t, sink.phaseDurations, "phase 1"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func histogramCount(t *testing.T, vec *prometheus.HistogramVec, label string) int {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(vec))
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return int(m.GetHistogram().GetSampleCount())
				}
			}
		}
	}
	return 0
}

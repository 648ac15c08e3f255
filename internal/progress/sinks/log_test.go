package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/plotmon/internal/aggregator"
	"github.com/JakeFAU/plotmon/internal/phase"
	"github.com/JakeFAU/plotmon/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		progressEvent("plot-1", aggregator.State{Phase: phase.Compressing, Stage: 1}),
		{Job: "plot-2", TS: time.Now(), Stage: progress.StageNotStarted},
		{Job: "plot-3", TS: time.Now(), Stage: progress.StageJobError, Note: "gone"},
	}))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, "plot-1", entries[0].ContextMap()["job"])
	require.EqualValues(t, 64, entries[0].ContextMap()["percent"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, "gone", entries[2].ContextMap()["note"])
}

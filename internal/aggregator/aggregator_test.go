package aggregator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/plotmon/internal/phase"
	"github.com/JakeFAU/plotmon/internal/stats"
)

var fullRun = []string{
	"Starting plotting progress into temporary dirs: /mnt/tmp and /mnt/tmp",
	"Starting phase 1/4: Forward Propagation into tmp files... Tue May  4 01:00:00 2021",
	"Computing table 1",
	"\tBucket 0 uniform sort. Ram: 3.250GiB, u_sort min: 0.563GiB, qs min: 0.281GiB.",
	"Computing table 2",
	"Computing table 7",
	"Time for phase 1 = 9000.123 seconds. CPU (170.50%) Tue May  4 03:30:00 2021",
	"Starting phase 2/4: Backpropagation into tmp files... Tue May  4 03:30:00 2021",
	"Backpropagating on table 7",
	"Backpropagating on table 2",
	"Time for phase 2 = 4000.000 seconds. CPU (95.00%) Tue May  4 04:36:40 2021",
	"Starting phase 3/4: Compression from tmp files into \"/mnt/tmp/plot.2.tmp\"",
	"Compressing tables 1 and 2",
	"Compressing tables 6 and 7",
	"Time for phase 3 = 8000.000 seconds. CPU (90.00%)",
	"Starting phase 4/4: Write Checkpoint tables into \"/mnt/tmp/plot.2.tmp\"",
	"Time for phase 4 = 600.000 seconds. CPU (80.00%)",
	"Copied final file from \"/mnt/tmp/plot.2.tmp\" to \"/mnt/dst/plot.2.tmp\"",
	"Renamed final file from \"/mnt/dst/plot.2.tmp\" to \"/mnt/dst/plot\"",
}

func TestReplayScenarioPhaseOneStageTwo(t *testing.T) {
	t.Parallel()

	tr := NewTracker("plot-1", nil)
	got := tr.Replay([]string{
		"Starting phase 1/4: Forward Propagation into tmp files...",
		"Computing table 1",
		"Computing table 2",
		"\tBucket 0 uniform sort.",
	})

	require.Equal(t, State{Phase: phase.Computing, Stage: 2}, got)
	require.Equal(t, 2, CumulativeIndex(got))
	require.Equal(t, 9, PercentComplete(got))
}

func TestReplayMatchesAdvance(t *testing.T) {
	t.Parallel()

	replayed := NewTracker("plot-1", nil).Replay(fullRun)

	live := NewTracker("plot-1", nil)
	var last State
	for _, line := range fullRun {
		last, _ = live.Advance(line)
	}

	require.Equal(t, len(fullRun)%len(SpinnerFrames), last.SpinnerIndex)
	last.SpinnerIndex = 0
	require.Equal(t, replayed, last)
	require.Equal(t, State{Phase: phase.Done, CompletedCount: 1}, replayed)
}

func TestReplayReader(t *testing.T) {
	t.Parallel()

	tr := NewTracker("plot-1", nil)
	got, err := tr.ReplayReader(strings.NewReader(strings.Join(fullRun, "\n") + "\n" + fullRun[1]))
	require.NoError(t, err)
	require.Equal(t, State{Phase: phase.Computing, CompletedCount: 1}, got)
}

func TestCompletedCountAcrossRuns(t *testing.T) {
	t.Parallel()

	tr := NewTracker("plot-1", nil)
	got := tr.Replay(append(append([]string{}, fullRun...), fullRun...))
	require.Equal(t, 2, got.CompletedCount)
}

func TestCumulativeIndexMonotonic(t *testing.T) {
	t.Parallel()

	tr := NewTracker("plot-1", nil)
	prev := UnknownIndex
	for _, line := range fullRun {
		st, _ := tr.Advance(line)
		idx := CumulativeIndex(st)
		require.GreaterOrEqual(t, idx, prev, line)
		prev = idx
	}
	require.Equal(t, phase.TotalProgress, prev)
}

func TestPercentComplete(t *testing.T) {
	t.Parallel()

	require.Equal(t, 100, PercentComplete(State{Phase: phase.Done}))
	require.Equal(t, 0, PercentComplete(State{Phase: phase.Computing}))
	require.Equal(t, 32, PercentComplete(State{Phase: phase.Backpropagating}))
	require.Equal(t, UnknownIndex, PercentComplete(State{}))
	require.Equal(t, UnknownIndex, CumulativeIndex(State{Stage: 3}))
}

func TestAdvanceSpinnerWraps(t *testing.T) {
	t.Parallel()

	tr := NewTracker("plot-1", nil)
	for i := 0; i < len(SpinnerFrames); i++ {
		tr.Advance("noise")
	}
	require.Equal(t, 0, tr.State().SpinnerIndex)
	st, _ := tr.Advance("noise")
	require.Equal(t, 1, st.SpinnerIndex)
	require.False(t, st.Known())
}

func TestTrackerCollectsSamples(t *testing.T) {
	t.Parallel()

	c := stats.NewCollector()
	tr := NewTracker("plot-1", c)
	tr.Replay(fullRun[:8])
	_, sampled := tr.Advance("Time for phase 2 = 10 seconds. CPU (50%)")
	require.True(t, sampled)

	samples := c.Job("plot-1")
	require.Len(t, samples["phase 1"], 1)
	require.Equal(t, 9000.123, samples["phase 1"][0].ElapsedSeconds)
	require.Len(t, samples["phase 2"], 1)
}

func TestTitleAndSummary(t *testing.T) {
	t.Parallel()

	st := State{Phase: phase.Backpropagating, Stage: 2, CompletedCount: 3, SpinnerIndex: 1}
	require.Equal(t, "◷ [plot-1 ( 9/22)] Backpropagating (phase 2/4)", Title("plot-1", st))
	require.Equal(t, "[plot-1] Done 3. Current plot in phase 2 stage 2/6", Summary("plot-1", st))
	require.Equal(t, "◴ [plot-1 ( ?/22)] unknown", Title("plot-1", State{}))
	require.Equal(t, "[plot-1] Done 0. No recognised progress yet", Summary("plot-1", State{}))
}

package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	procs []Process
	err   error
}

func (f fakeTable) Snapshot(context.Context) ([]Process, error) {
	return f.procs, f.err
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeReader map[int]ProcessTimes

func (f fakeReader) ReadProcess(pid int) (ProcessTimes, error) {
	t, ok := f[pid]
	if !ok {
		return ProcessTimes{}, errors.New("no such process")
	}
	return t, nil
}

const (
	screenPlot1 = `SCREEN -dmS plot-1 bash -c cd ~/chia && . ./activate && sleep 5 && chia plots create -k 32 -t /mnt/tmp1 -d /mnt/dst --tmp_dir2=/mnt/t2 -e | tee /var/log/plots/plot-1.log`
	screenPlot2 = `SCREEN -dmS plot-2 bash -c cd ~/chia && . ./activate && sleep 5 && chia plots create -k 32 -t /mnt/tmp2 -d /mnt/dst | tee -a /var/log/plots/plot-2.log`
)

func testTable() fakeTable {
	return fakeTable{procs: []Process{
		{PID: 1, Name: "systemd", CommandLine: "/sbin/init"},
		{PID: 100, Name: "screen", CommandLine: screenPlot1},
		{PID: 101, Name: "screen", CommandLine: screenPlot2},
		{PID: 200, Name: "python3", CommandLine: "python3 chia plots create -k 32 -t /mnt/tmp1 -d /mnt/dst"},
		{PID: 201, Name: "bash", CommandLine: "bash -c chia plots create -t /mnt/tmp2"},
	}}
}

func TestDiscoverJobsAttachesWorkers(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start.Add(100 * time.Second)}
	reader := fakeReader{200: {CPUSeconds: 50, StartTime: start, MemoryBytes: 4096}}
	d := NewDiscoverer(testTable(), NewScreenMatcher(MatchConfig{}), NewSampler(reader, clock, 0, nil), nil)

	jobs, err := d.DiscoverJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	p1 := jobs["plot-1"]
	require.Equal(t, "/var/log/plots/plot-1.log", p1.LogPath)
	require.Equal(t, "32", p1.LaunchArgs["k"])
	require.Equal(t, "/mnt/tmp1", p1.LaunchArgs["t"])
	require.Equal(t, "/mnt/t2", p1.LaunchArgs["tmp_dir2"])
	require.Equal(t, "true", p1.LaunchArgs["e"])
	require.True(t, p1.Started())
	require.Equal(t, 200, p1.Process.PID)
	require.InDelta(t, 50.0, p1.Process.CPUPercent, 1e-9)
	require.Equal(t, uint64(4096), p1.Process.MemoryBytes)

	p2 := jobs["plot-2"]
	require.Equal(t, "/var/log/plots/plot-2.log", p2.LogPath)
	require.False(t, p2.Started())
	require.Nil(t, p2.Process)

	require.Equal(t, []int{200}, PIDs(jobs))
}

func TestDiscoverJobsEmpty(t *testing.T) {
	t.Parallel()

	d := NewDiscoverer(fakeTable{}, NewScreenMatcher(MatchConfig{}), nil, nil)
	jobs, err := d.DiscoverJobs(context.Background())
	require.NoError(t, err)
	require.NotNil(t, jobs)
	require.Empty(t, jobs)
}

func TestDiscoverJobsTableError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	d := NewDiscoverer(fakeTable{err: boom}, NewScreenMatcher(MatchConfig{}), nil, nil)
	_, err := d.DiscoverJobs(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestDiscoverJobsDuplicateNameKeepsFirst(t *testing.T) {
	t.Parallel()

	table := fakeTable{procs: []Process{
		{PID: 100, Name: "screen", CommandLine: screenPlot1},
		{PID: 300, Name: "screen", CommandLine: screenPlot2[:len("SCREEN -dmS ")] + "plot-1" + screenPlot2[len("SCREEN -dmS plot-2"):]},
	}}
	d := NewDiscoverer(table, NewScreenMatcher(MatchConfig{}), nil, nil)
	jobs, err := d.DiscoverJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "/var/log/plots/plot-1.log", jobs["plot-1"].LogPath)
}

func TestFilterByDir(t *testing.T) {
	t.Parallel()

	jobs := map[string]JobDescriptor{
		"a": {Name: "a", LogPath: "/logs/a.log"},
		"b": {Name: "b", LogPath: "/logs/nested/b.log"},
		"c": {Name: "c", LogPath: "/other/c.log"},
		"d": {Name: "d", LogPath: "/logs-old/d.log"},
	}

	require.Len(t, FilterByDir(jobs, ""), 4)

	got := FilterByDir(jobs, "/logs/")
	require.Len(t, got, 2)
	require.Contains(t, got, "a")
	require.Contains(t, got, "b")
}

func TestJobDescriptorClone(t *testing.T) {
	t.Parallel()

	orig := JobDescriptor{
		Name:       "a",
		LaunchArgs: map[string]string{"k": "32"},
		Process:    &ProcessHandle{PID: 7},
	}
	cp := orig.Clone()
	cp.LaunchArgs["k"] = "33"
	cp.Process.PID = 8

	require.Equal(t, "32", orig.LaunchArgs["k"])
	require.Equal(t, 7, orig.Process.PID)
}

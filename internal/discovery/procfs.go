package discovery

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prometheus/procfs"
)

// ProcFS reads the process table from a mounted procfs.
type ProcFS struct {
	fs procfs.FS
}

// NewProcFS opens the procfs mounted at mountPoint (procfs.DefaultMountPoint
// when empty).
func NewProcFS(mountPoint string) (*ProcFS, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs %s: %w", mountPoint, err)
	}
	return &ProcFS{fs: fs}, nil
}

// Snapshot implements ProcessTable. Processes that exit while the table is
// being read are skipped.
func (p *ProcFS) Snapshot(ctx context.Context) ([]Process, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]Process, 0, len(procs))
	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("list processes: %w", err)
		}
		comm, err := proc.Comm()
		if err != nil {
			continue
		}
		args, err := proc.CmdLine()
		if err != nil {
			continue
		}
		out = append(out, Process{
			PID:         proc.PID,
			Name:        comm,
			CommandLine: strings.Join(args, " "),
		})
	}
	return out, nil
}

// ReadProcess implements ResourceReader.
func (p *ProcFS) ReadProcess(pid int) (ProcessTimes, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return ProcessTimes{}, fmt.Errorf("open proc %d: %w", pid, err)
	}
	stat, err := proc.Stat()
	if err != nil {
		return ProcessTimes{}, fmt.Errorf("read stat %d: %w", pid, err)
	}
	times := ProcessTimes{
		CPUSeconds:  stat.CPUTime(),
		MemoryBytes: uint64(max(stat.ResidentMemory(), 0)),
	}
	if start, err := stat.StartTime(); err == nil {
		sec, frac := math.Modf(start)
		times.StartTime = time.Unix(int64(sec), int64(frac*1e9))
	}
	return times, nil
}

package sinks

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"

	"github.com/JakeFAU/plotmon/internal/aggregator"
	"github.com/JakeFAU/plotmon/internal/progress"
)

// TerminalSink renders events as styled lines. Progress events are printed
// only when the visible progress changes, so spinner-only updates stay quiet.
type TerminalSink struct {
	mu   sync.Mutex
	out  io.Writer
	last map[string]aggregator.State

	title   lipgloss.Style
	percent lipgloss.Style
	muted   lipgloss.Style
	warn    lipgloss.Style
	err     lipgloss.Style
	ok      lipgloss.Style
}

// NewTerminalSink builds a sink writing to out. Colors follow the terminal
// capabilities detected on out, so plain writers get plain text.
func NewTerminalSink(out io.Writer) *TerminalSink {
	r := lipgloss.NewRenderer(out)
	return &TerminalSink{
		out:     out,
		last:    make(map[string]aggregator.State),
		title:   r.NewStyle().Bold(true),
		percent: r.NewStyle().Foreground(lipgloss.Color("#7D56F4")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#626262")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("#FFCC00")),
		err:     r.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("#04B575")),
	}
}

// Consume writes one line per visible event.
func (s *TerminalSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		lines := s.render(evt)
		for _, line := range lines {
			if _, err := fmt.Fprintln(s.out, line); err != nil {
				return fmt.Errorf("write terminal line: %w", err)
			}
		}
	}
	return nil
}

func (s *TerminalSink) render(evt progress.Event) []string {
	tag := s.muted.Render("[" + evt.Job + "]")
	switch evt.Stage {
	case progress.StageProgress:
		prev, seen := s.last[evt.Job]
		s.last[evt.Job] = evt.State
		if seen && sameProgress(prev, evt.State) {
			return nil
		}
		pct := "  ?%"
		if evt.Percent != aggregator.UnknownIndex {
			pct = fmt.Sprintf("%3d%%", evt.Percent)
		}
		return []string{s.title.Render(evt.Title) + " " + s.percent.Render(pct)}
	case progress.StagePhaseStats:
		summaries := evt.Samples.Summaries()
		labels := make([]string, 0, len(summaries))
		for label := range summaries {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		out := make([]string, 0, len(labels))
		for _, label := range labels {
			sm := summaries[label]
			out = append(out, fmt.Sprintf("%s %s: time %.3f±%.3fs cpu %.3f±%.3f%% (n=%d)",
				tag, label, sm.Elapsed.Mean, sm.Elapsed.StdDev, sm.CPU.Mean, sm.CPU.StdDev, sm.Count))
		}
		return out
	case progress.StageResources:
		return []string{fmt.Sprintf("%s pid %d cpu %.1f%% mem %s",
			tag, evt.PID, evt.CPUPercent, units.BytesSize(float64(evt.MemoryBytes)))}
	case progress.StageNotStarted:
		return []string{tag + " " + s.warn.Render("not started")}
	case progress.StageJobError:
		return []string{tag + " " + s.err.Render("stream ended: "+evt.Note)}
	case progress.StageSummary:
		return []string{s.ok.Render(strings.TrimSpace(evt.Note))}
	}
	return nil
}

func sameProgress(a, b aggregator.State) bool {
	a.SpinnerIndex, b.SpinnerIndex = 0, 0
	return a == b
}

// Close implements the Sink interface; it performs no action.
func (s *TerminalSink) Close(context.Context) error {
	return nil
}

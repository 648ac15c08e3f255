package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/plotmon/internal/progress"
	"github.com/JakeFAU/plotmon/internal/stats"
)

// PrometheusSink exports per-job progress as Prometheus gauges and feeds
// newly seen phase timings into a histogram.
type PrometheusSink struct {
	percent        *prometheus.GaugeVec
	completed      *prometheus.GaugeVec
	cpuPercent     *prometheus.GaugeVec
	memoryBytes    *prometheus.GaugeVec
	notStarted     *prometheus.GaugeVec
	jobErrors      *prometheus.CounterVec
	phaseDurations *prometheus.HistogramVec
	phaseCPU       *prometheus.HistogramVec

	tracker *sampleTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		percent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plotmon_job_percent_complete",
			Help: "Rounded completion of the current plot, -1 while unknown.",
		}, []string{"job"}),
		completed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plotmon_job_plots_completed",
			Help: "Completed plots recorded in the job log.",
		}, []string{"job"}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plotmon_job_cpu_percent",
			Help: "CPU utilisation of the job worker process.",
		}, []string{"job"}),
		memoryBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plotmon_job_memory_bytes",
			Help: "Resident memory of the job worker process.",
		}, []string{"job"}),
		notStarted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plotmon_job_not_started",
			Help: "1 when a job was discovered without a worker process.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "plotmon_job_stream_errors_total",
			Help: "Per-job stream failures.",
		}, []string{"job"}),
		phaseDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plotmon_phase_duration_seconds",
			Help:    "Reported wall time per plot phase.",
			Buckets: []float64{600, 1800, 3600, 7200, 10800, 14400, 21600, 28800, 43200},
		}, []string{"phase"}),
		phaseCPU: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plotmon_phase_cpu_percent",
			Help:    "Reported CPU utilisation per plot phase.",
			Buckets: []float64{50, 100, 150, 200, 300, 400, 600, 800},
		}, []string{"phase"}),
		tracker: newSampleTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.percent,
		s.completed,
		s.cpuPercent,
		s.memoryBytes,
		s.notStarted,
		s.jobErrors,
		s.phaseDurations,
		s.phaseCPU,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageProgress:
		s.notStarted.WithLabelValues(evt.Job).Set(0)
		s.percent.WithLabelValues(evt.Job).Set(float64(evt.Percent))
		s.completed.WithLabelValues(evt.Job).Set(float64(evt.State.CompletedCount))
	case progress.StageResources:
		s.cpuPercent.WithLabelValues(evt.Job).Set(evt.CPUPercent)
		s.memoryBytes.WithLabelValues(evt.Job).Set(float64(evt.MemoryBytes))
	case progress.StageNotStarted:
		s.notStarted.WithLabelValues(evt.Job).Set(1)
	case progress.StageJobError:
		s.jobErrors.WithLabelValues(evt.Job).Inc()
	case progress.StagePhaseStats:
		for _, sample := range s.tracker.fresh(evt.Job, evt.Samples) {
			s.phaseDurations.WithLabelValues(sample.PhaseLabel).Observe(sample.ElapsedSeconds)
			s.phaseCPU.WithLabelValues(sample.PhaseLabel).Observe(sample.CPUPercent)
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// sampleTracker remembers how many samples per (job, label) were already
// observed, since each stats event carries the full history.
type sampleTracker struct {
	mu   sync.Mutex
	seen map[string]int
}

func newSampleTracker() *sampleTracker {
	return &sampleTracker{seen: make(map[string]int)}
}

func (t *sampleTracker) fresh(job string, samples stats.JobSamples) []stats.Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []stats.Sample
	for label, list := range samples {
		key := job + "\x00" + label
		seen := t.seen[key]
		if len(list) > seen {
			out = append(out, list[seen:]...)
		}
		t.seen[key] = len(list)
	}
	return out
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if envelopesTotal == nil || linesTotal == nil || jobErrorsTotal == nil ||
		sampleCycleSeconds == nil || activeStreams == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(envelopesTotal.WithLabelValues("TEST_KIND"))
	ObserveEnvelope("TEST_KIND")
	if val := testutil.ToFloat64(envelopesTotal.WithLabelValues("TEST_KIND")); val != before+1 {
		t.Errorf("Expected envelopesTotal to grow by 1, got %f -> %f", before, val)
	}

	before = testutil.ToFloat64(linesTotal.WithLabelValues("test"))
	ObserveLines("test", 3)
	ObserveLines("test", 0)
	if val := testutil.ToFloat64(linesTotal.WithLabelValues("test")); val != before+3 {
		t.Errorf("Expected linesTotal to grow by 3, got %f -> %f", before, val)
	}

	before = testutil.ToFloat64(sampleFailuresTotal)
	ObserveSampleCycle(10*time.Millisecond, 2)
	if val := testutil.ToFloat64(sampleFailuresTotal); val != before+2 {
		t.Errorf("Expected sampleFailuresTotal to grow by 2, got %f -> %f", before, val)
	}

	gauge := testutil.ToFloat64(activeStreams)
	IncActiveStreams()
	DecActiveStreams()
	if val := testutil.ToFloat64(activeStreams); val != gauge {
		t.Errorf("Expected activeStreams to return to %f, got %f", gauge, val)
	}
}

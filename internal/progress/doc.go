// Package progress provides the presentation events, non-blocking hub, and
// emitter interfaces the orchestrator uses to publish job progress. The hub
// batches events on a background goroutine and fans them out to pluggable
// sinks such as a terminal view, Prometheus gauges, or the status store.
package progress

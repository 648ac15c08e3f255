// Package sinks implements concrete progress consumers: a styled terminal
// view, Prometheus gauges, the status snapshot store, and structured logging.
// Each sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks

// Package otel publishes engine metrics through an OpenTelemetry meter.
//
// Each engine counter becomes an Int64ObservableCounter; the latency
// histogram becomes one cumulative gauge per bucket. A single callback reads
// the engine snapshot per collection. Callers own the MeterProvider.
package otel

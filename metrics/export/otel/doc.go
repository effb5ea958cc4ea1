// Package otel publishes go2fa engine metrics through OpenTelemetry
// asynchronous instruments.
//
// [NewOTelExporter] registers one Int64ObservableCounter per engine counter.
// The verify latency histogram is reported as a cumulative bucket gauge with
// an "le" attribute plus a count gauge. A single callback reads
// [go2fa.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel

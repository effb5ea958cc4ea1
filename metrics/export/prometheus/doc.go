// Package prometheus exposes go2fa engine metrics as a prometheus.Collector.
//
// [NewPrometheusExporter] wraps an [go2fa.Engine]. Counters are named
// go2fa_*_total; the single histogram is go2fa_verify_latency_seconds.
// Mount [PrometheusExporter.Handler] directly, or call
// [PrometheusExporter.Register] to add the collector to an existing registry.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry on its own.
//   - Mutate engine state.
package prometheus

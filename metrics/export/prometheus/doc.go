// Package prometheus exposes engine metrics to Prometheus.
//
// [NewExporter] wraps a [MetricsSource] (usually *tokenlife.Engine) in a
// collector and serves it from a private registry. Counter names follow
// tokenlife_*_total; the only histogram is tokenlife_validate_latency_seconds.
package prometheus

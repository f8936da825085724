// Package prometheus provides Prometheus collectors for portalauth metrics.
//
// [NewPrometheusExporter] accepts a [portalauth.Engine] and exposes an
// [http.Handler] that renders all engine counters and histograms in
// Prometheus text exposition format. Counter names are prefixed
// portalauth_*_total; the single histogram is
// portalauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry: callers mount the Handler.
//   - Mutate engine state.
package prometheus

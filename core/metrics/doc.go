// Package metrics defines the events the gateway records for observability:
// poll outcomes, command results, relogin attempts and inbox runs. Sinks such
// as the Prometheus sink in infra/metrics implement the recorder interfaces
// they support and can be combined with NewMultiSink. The factory helpers
// return a MultiSink automatically when multiple sinks are configured.
package metrics

// Package metrics exposes Prometheus metrics for token sessions.
//
// A Registry owns its own prometheus.Registry. Instrument hooks it into a
// session.ControllerConfig; Handler serves the /metrics endpoint.
package metrics

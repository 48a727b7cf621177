// Package metrics exposes Prometheus counters and gauges for the task queue,
// service queue, and manager registry.
package metrics

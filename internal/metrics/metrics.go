package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector gathers the Prometheus metrics exposed on /metrics.
type Collector struct {
	registry *prometheus.Registry

	tasksClaimed     prometheus.Counter
	tasksAccepted    prometheus.Counter
	tasksRejected    prometheus.Counter
	tasksOrphaned    prometheus.Counter
	servicesIterated prometheus.Counter
	servicesFailed   prometheus.Counter
	managersActive   prometheus.Gauge
	claimLatency     prometheus.Histogram
}

// NewCollector creates a collector backed by its own registry so multiple
// instances can coexist in tests.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		tasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crucible_tasks_claimed_total",
			Help: "Total number of tasks claimed by managers",
		}),
		tasksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crucible_task_results_accepted_total",
			Help: "Total number of task results accepted",
		}),
		tasksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crucible_task_results_rejected_total",
			Help: "Total number of stale or unclaimed task results rejected",
		}),
		tasksOrphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crucible_tasks_orphan_recovered_total",
			Help: "Total number of tasks returned to waiting after a manager went silent",
		}),
		servicesIterated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crucible_services_iterated_total",
			Help: "Total number of service iterations executed",
		}),
		servicesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crucible_services_failed_total",
			Help: "Total number of service workflows halted by an iteration failure",
		}),
		managersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crucible_managers_active",
			Help: "Current number of active compute managers",
		}),
		claimLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crucible_claim_latency_seconds",
			Help:    "Latency of task claim transactions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		c.tasksClaimed,
		c.tasksAccepted,
		c.tasksRejected,
		c.tasksOrphaned,
		c.servicesIterated,
		c.servicesFailed,
		c.managersActive,
		c.claimLatency,
	)
	return c
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordClaimed counts tasks handed to a manager and observes claim latency.
func (c *Collector) RecordClaimed(count int, seconds float64) {
	c.tasksClaimed.Add(float64(count))
	c.claimLatency.Observe(seconds)
}

// RecordFinished counts accepted and rejected results from one return batch.
func (c *Collector) RecordFinished(accepted, rejected int) {
	c.tasksAccepted.Add(float64(accepted))
	c.tasksRejected.Add(float64(rejected))
}

// RecordOrphaned counts tasks recovered from a deactivated manager.
func (c *Collector) RecordOrphaned(count int) {
	c.tasksOrphaned.Add(float64(count))
}

// RecordServiceIterated counts one completed service iteration.
func (c *Collector) RecordServiceIterated() {
	c.servicesIterated.Inc()
}

// RecordServiceFailed counts one halted service workflow.
func (c *Collector) RecordServiceFailed() {
	c.servicesFailed.Inc()
}

// SetActiveManagers records the current size of the active manager pool.
func (c *Collector) SetActiveManagers(count int) {
	c.managersActive.Set(float64(count))
}

// ABOUTME: Prometheus metrics for the pool: processed/retried/failed counters, in-flight gauge.
// ABOUTME: Registered via promauto on the default registry, served by the ops /metrics endpoint.
package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcome labels for jobsProcessed.
const (
	resultSucceeded = "succeeded"
	resultRetried   = "retried"
	resultFailed    = "failed"
	resultDropped   = "dropped" // unknown kind or permanent error, acked
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nexa_worker_jobs_processed_total",
		Help: "Jobs executed by the worker pool, by queue, kind and outcome.",
	}, []string{"queue", "kind", "result"})

	jobsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nexa_worker_jobs_inflight",
		Help: "Jobs currently executing, by queue.",
	}, []string{"queue"})

	staleRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nexa_worker_stale_jobs_recovered_total",
		Help: "Inflight jobs reset to pending by stale-claim recovery.",
	})
)

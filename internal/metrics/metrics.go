// Package metrics exposes Prometheus counters, gauges and a histogram for
// the pre-execution engine: how many Jobs get enlisted, completed from
// cache or fresh, cancelled or timed out, and how long they take.
//
// Grounded on the teacher's internal/metrics.Collector (same shape: a
// struct of prometheus.* fields behind Record*/Update* methods, registered
// once in NewCollector, served over promhttp), retargeted from the
// teacher's queue-depth/WAL-recovery metrics to the Job Registry's
// running/completed sizes and the orchestrator's cache-hit/timeout/cancel
// counts named in SPEC_FULL.md §2.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector is the process-wide set of registered metrics.
type Collector struct {
	jobsEnlisted   prometheus.Counter
	jobsCompleted  prometheus.Counter
	jobsCacheHit   prometheus.Counter
	jobsCancelled  prometheus.Counter
	jobsTimedOut   prometheus.Counter
	synthesisFails prometheus.Counter

	jobLatency prometheus.Histogram

	runningSize   prometheus.Gauge
	completedSize prometheus.Gauge
}

// NewCollector builds and registers every metric against the default
// Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		jobsEnlisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preexec_jobs_enlisted_total",
			Help: "Total number of Execution Jobs enlisted in the running registry",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preexec_jobs_completed_total",
			Help: "Total number of ApplyReal Execution Jobs that finished running",
		}),
		jobsCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preexec_jobs_cache_hit_total",
			Help: "Total number of orchestrator calls satisfied from a completed Job without running a new one",
		}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preexec_jobs_cancelled_total",
			Help: "Total number of Execution Jobs cancelled by the sweeper or a sync caller",
		}),
		jobsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preexec_jobs_timed_out_total",
			Help: "Total number of Execution Jobs that exceeded the global wall-clock budget",
		}),
		synthesisFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preexec_synthesis_failures_total",
			Help: "Total number of synthetic environment installation failures on the test/query path",
		}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "preexec_job_latency_seconds",
			Help:    "Execution Job wall-clock duration from Run to termination",
			Buckets: prometheus.DefBuckets,
		}),
		runningSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "preexec_registry_running_size",
			Help: "Current number of Jobs in the running multimap",
		}),
		completedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "preexec_registry_completed_size",
			Help: "Current number of Jobs in the completed map",
		}),
	}

	prometheus.MustRegister(
		c.jobsEnlisted,
		c.jobsCompleted,
		c.jobsCacheHit,
		c.jobsCancelled,
		c.jobsTimedOut,
		c.synthesisFails,
		c.jobLatency,
		c.runningSize,
		c.completedSize,
	)

	return c
}

// RecordEnlisted records a Job entering the running multimap.
func (c *Collector) RecordEnlisted() {
	c.jobsEnlisted.Inc()
}

// RecordCompleted records an ApplyReal Job finishing its run, along with
// its wall-clock latency. It counts every such Job, including SyncProcess
// Jobs that are never enlisted and duplicates the registry drops.
func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.jobsCompleted.Inc()
	c.jobLatency.Observe(latencySeconds)
}

// RecordCacheHit records an orchestrator call satisfied from the completed
// map without running a new Job.
func (c *Collector) RecordCacheHit() {
	c.jobsCacheHit.Inc()
}

// RecordCancelled records a cancellation, whether sweeper- or
// sync-caller-driven.
func (c *Collector) RecordCancelled() {
	c.jobsCancelled.Inc()
}

// RecordTimeout records a Job that exceeded its global wall-clock budget.
func (c *Collector) RecordTimeout() {
	c.jobsTimedOut.Inc()
}

// RecordSynthesisFailure records a failed synthetic environment
// installation on the test/query path.
func (c *Collector) RecordSynthesisFailure() {
	c.synthesisFails.Inc()
}

// UpdateRegistryStats sets the running/completed size gauges from a
// registry.Status snapshot.
func (c *Collector) UpdateRegistryStats(running, completed int) {
	c.runningSize.Set(float64(running))
	c.completedSize.Set(float64(completed))
}

// StartServer serves /metrics on the given port. It blocks; callers run it
// in its own goroutine.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}

// Package metrics exposes the daemon's Prometheus collectors. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agrisense/agrisensed/internal/advisor"
	"github.com/agrisense/agrisensed/internal/resilience"
)

const namespace = "agrisense"

// Collector holds every metric the daemon records, on its own registry.
type Collector struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	answers         *prometheus.CounterVec
	edgeResponses   *prometheus.CounterVec
	syncJobs        *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider calls by candidate and outcome kind.",
		}, []string{"candidate", "kind"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Provider call latency by candidate.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"candidate"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Advisor answers by operation and source.",
		}, []string{"op", "source"}),
		edgeResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edge_responses_total",
			Help:      "Intercepted page responses by where they were served from.",
		}, []string{"source"}),
		syncJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_jobs_total",
			Help:      "Background sync replays by tag and result.",
		}, []string{"tag", "result"}),
	}
	c.registry.MustRegister(
		c.attempts, c.attemptDuration, c.answers, c.edgeResponses, c.syncJobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveAttempt matches the orchestrator's Observer signature.
func (c *Collector) ObserveAttempt(a resilience.Attempt) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(a.Candidate.ID, a.Kind.String()).Inc()
	c.attemptDuration.WithLabelValues(a.Candidate.ID).Observe(a.Duration.Seconds())
}

func (c *Collector) AnswerServed(op string, source advisor.Source) {
	if c == nil {
		return
	}
	c.answers.WithLabelValues(op, string(source)).Inc()
}

func (c *Collector) EdgeServed(source string) {
	if c == nil {
		return
	}
	c.edgeResponses.WithLabelValues(source).Inc()
}

func (c *Collector) SyncReplayed(tag, result string) {
	if c == nil {
		return
	}
	c.syncJobs.WithLabelValues(tag, result).Inc()
}

// Registry exposes the underlying registry (tests, extra collectors).
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

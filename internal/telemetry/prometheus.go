package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inzikt/internal/types"
)

// Prometheus keeps its own registry so tests and multiple servers in one
// process never collide on the global default.
type Prometheus struct {
	registry *prometheus.Registry

	ticks         *prometheus.CounterVec
	jobsRun       prometheus.Counter
	executions    *prometheus.CounterVec
	execDuration  *prometheus.HistogramVec
	adhocJobs     *prometheus.CounterVec
	adhocDuration *prometheus.HistogramVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// NewPrometheus registers every collector under the given namespace, plus the
// standard Go runtime and process collectors.
func NewPrometheus(namespace string) *Prometheus {
	ns := sanitizeNamespace(namespace)
	jobBuckets := []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scheduler", Name: "ticks_total",
			Help: "Scheduler ticks by outcome",
		}, []string{"outcome"}),
		jobsRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scheduler", Name: "jobs_run_total",
			Help: "Scheduled jobs started by ticks",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scheduler", Name: "executions_total",
			Help: "Finished scheduled job executions",
		}, []string{"job_type", "status"}),
		execDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "scheduler", Name: "execution_duration_seconds",
			Help: "Scheduled job execution time", Buckets: jobBuckets,
		}, []string{"job_type", "status"}),
		adhocJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "jobs", Name: "finished_total",
			Help: "Finished ad hoc jobs",
		}, []string{"job_type", "status"}),
		adhocDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "jobs", Name: "duration_seconds",
			Help: "Ad hoc job run time", Buckets: jobBuckets,
		}, []string{"job_type", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "http", Name: "requests_total",
			Help: "API requests",
		}, []string{"method", "endpoint", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "http", Name: "request_duration_seconds",
			Help: "API request latency", Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.ticks, p.jobsRun,
		p.executions, p.execDuration,
		p.adhocJobs, p.adhocDuration,
		p.requests, p.latency,
	)
	return p
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) RecordTick(outcome string, jobsRun int) {
	p.ticks.WithLabelValues(outcome).Inc()
	if jobsRun > 0 {
		p.jobsRun.Add(float64(jobsRun))
	}
}

func (p *Prometheus) RecordExecution(jobType string, status types.ExecutionStatus, d time.Duration) {
	p.executions.WithLabelValues(jobType, string(status)).Inc()
	p.execDuration.WithLabelValues(jobType, string(status)).Observe(d.Seconds())
}

func (p *Prometheus) RecordAdhocJob(jobType string, status types.AdhocStatus, d time.Duration) {
	p.adhocJobs.WithLabelValues(jobType, string(status)).Inc()
	p.adhocDuration.WithLabelValues(jobType, string(status)).Observe(d.Seconds())
}

// RecordRequest expects endpoint to be a route pattern, not a raw path, so
// label cardinality stays bounded.
func (p *Prometheus) RecordRequest(method, endpoint, status string, d time.Duration) {
	p.requests.WithLabelValues(method, endpoint, status).Inc()
	p.latency.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// sanitizeNamespace lowercases and replaces anything outside [a-z0-9_].
func sanitizeNamespace(ns string) string {
	out := make([]byte, 0, len(ns))
	for i := 0; i < len(ns); i++ {
		c := ns[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		case c >= 'a' && c <= 'z', c == '_':
			out = append(out, c)
		case c >= '0' && c <= '9':
			if len(out) == 0 {
				out = append(out, '_')
			}
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "app"
	}
	return string(out)
}

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the application collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Runs            *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	Submissions     *prometheus.CounterVec
	XPAwarded       prometheus.Counter
	SaveFailures    prometheus.Counter
	ActiveSessions  prometheus.Gauge
}

// New creates the collectors and registers them on a private registry
// together with the process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pylearner_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pylearner_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pylearner_runs_total",
				Help: "Code executions by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pylearner_run_duration_seconds",
				Help:    "Duration of code executions",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"strategy"},
		),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pylearner_submissions_total",
				Help: "Exercise and project submissions by kind and result",
			},
			[]string{"kind", "result"},
		),
		XPAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pylearner_xp_awarded_total",
			Help: "Experience points awarded",
		}),
		SaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pylearner_progress_save_failures_total",
			Help: "Progress saves that failed",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pylearner_active_sessions",
			Help: "Signed-in sessions held by the daemon",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestCounter,
		m.RequestDuration,
		m.Runs,
		m.RunDuration,
		m.Submissions,
		m.XPAwarded,
		m.SaveFailures,
		m.ActiveSessions,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveRun records one execution. Outcome is ok, failed or error.
func (m *Metrics) ObserveRun(strategy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(strategy, outcome).Inc()
	m.RunDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveSubmission records a submission and the XP it earned.
func (m *Metrics) ObserveSubmission(kind string, awarded bool, xp int) {
	if m == nil {
		return
	}
	result := "resubmitted"
	if awarded {
		result = "awarded"
	}
	m.Submissions.WithLabelValues(kind, result).Inc()
	if xp > 0 {
		m.XPAwarded.Add(float64(xp))
	}
}

// ObserveSaveFailure counts a failed progress save.
func (m *Metrics) ObserveSaveFailure() {
	if m == nil {
		return
	}
	m.SaveFailures.Inc()
}

// SetActiveSessions sets the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

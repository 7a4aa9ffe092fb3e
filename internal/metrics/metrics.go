// Package metrics holds the Prometheus collectors for schedule runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry       *prometheus.Registry
	Runs           *prometheus.CounterVec
	HoursAllocated *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksMissed    *prometheus.CounterVec
	RunDuration    prometheus.Histogram
}

// New registers a fresh set of collectors on their own registry together
// with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyline",
			Name:      "schedule_runs_total",
			Help:      "Schedule runs by final state.",
		}, []string{"state"}),
		HoursAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyline",
			Name:      "hours_allocated_total",
			Help:      "Study hours handed out by schedule runs.",
		}, []string{"profile"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyline",
			Name:      "tasks_completed_total",
			Help:      "Tasks fully scheduled before their deadline.",
		}, []string{"profile"}),
		TasksMissed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyline",
			Name:      "tasks_missed_total",
			Help:      "Tasks whose deadline passed with work remaining.",
		}, []string{"profile"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studyline",
			Name:      "schedule_run_duration_seconds",
			Help:      "Wall time of a schedule run.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Runs, m.HoursAllocated, m.TasksCompleted, m.TasksMissed, m.RunDuration,
	)
	return m
}

// ObserveRun records one finished run. A nil receiver does nothing.
func (m *Metrics) ObserveRun(profileID, state string, hours, completed, missed int, took time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(state).Inc()
	m.HoursAllocated.WithLabelValues(profileID).Add(float64(hours))
	m.TasksCompleted.WithLabelValues(profileID).Add(float64(completed))
	m.TasksMissed.WithLabelValues(profileID).Add(float64(missed))
	m.RunDuration.Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

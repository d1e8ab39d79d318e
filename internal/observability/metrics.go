// Package observability holds the Prometheus instruments shared by the task
// manager, the monitor controller and the HTTP bridge.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "piotask"

// Reasons a monitor resume was skipped.
const (
	SkipFailed     = "failed"
	SkipEmptyQueue = "empty_queue"
)

// Metrics groups all Prometheus instruments used by piotask.
type Metrics struct {
	MonitorSuspended     prometheus.Counter
	MonitorResumed       prometheus.Counter
	MonitorResumeSkipped *prometheus.CounterVec
	TaskDispatches       *prometheus.CounterVec
	Refreshes            *prometheus.CounterVec
}

// NewMetrics creates the instruments and registers them on reg. A nil reg
// creates unregistered instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MonitorSuspended: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "monitor_suspended_total",
			Help:      "Serial monitor executions terminated to free the port.",
		}),
		MonitorResumed: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "monitor_resumed_total",
			Help:      "Suspended serial monitor executions dispatched again.",
		}),
		MonitorResumeSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "monitor_resume_skipped_total",
			Help:      "Active task completions that did not resume monitors, by reason.",
		}, []string{"reason"}),
		TaskDispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_dispatches_total",
			Help:      "Task dispatches to the execution host, by result.",
		}, []string{"result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "refreshes_total",
			Help:      "Task registry rebuilds, by result.",
		}, []string{"result"}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

package workers

import (
	"Lantern/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics of the dispatch pool.
type Metrics struct {
	Running  prometheus.GaugeFunc
	Paused   prometheus.GaugeFunc
	Duration *prometheus.HistogramVec
	Failures *prometheus.CounterVec
	Refused  *prometheus.CounterVec
}

// NewMetrics creates and registers pool metrics on the given registry.
func NewMetrics(reg prometheus.Registerer, pool *Pool) *Metrics {
	m := &Metrics{
		Running: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workers",
			Name:      "running_tasks",
			Help:      "Tasks currently executing.",
		}, func() float64 { return float64(pool.Running()) }),
		Paused: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workers",
			Name:      "paused",
			Help:      "1 while heavy tasks are refused.",
		}, func() float64 {
			if pool.Paused() {
				return 1
			}
			return 0
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workers",
			Name:      "task_duration_seconds",
			Help:      "Execution time of dispatched tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"task"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workers",
			Name:      "task_failures_total",
			Help:      "Dispatched tasks that returned an error.",
		}, []string{"task"}),
		Refused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "workers",
			Name:      "refused_tasks_total",
			Help:      "Heavy tasks refused while paused.",
		}, []string{"task"}),
	}

	reg.MustRegister(m.Running, m.Paused, m.Duration, m.Failures, m.Refused)
	return m
}

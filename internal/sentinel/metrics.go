package sentinel

import (
	"Lantern/internal/entity"
	"Lantern/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics of the memory sentinel.
type Metrics struct {
	HeapUsed      prometheus.Gauge
	HeapRatio     prometheus.Gauge
	RSS           prometheus.Gauge
	SchedDelay    prometheus.Gauge
	Level         prometheus.Gauge
	LoadShedding  prometheus.Gauge
	WorkersPaused prometheus.Gauge
	Evictions     prometheus.Counter
	Reclaimed     prometheus.Counter
	ForcedGC      prometheus.Counter
	ShedRequests  *prometheus.CounterVec
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "memory",
		Name:      name,
		Help:      help,
	})
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "memory",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates and registers sentinel metrics on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HeapUsed:      gauge("heap_used_bytes", "Heap bytes in use at the latest sample."),
		HeapRatio:     gauge("heap_used_ratio", "Heap in use divided by the configured ceiling."),
		RSS:           gauge("rss_bytes", "Resident set size at the latest sample."),
		SchedDelay:    gauge("scheduler_delay_seconds", "Lateness of the latest sampling tick."),
		Level:         gauge("pressure_level", "Current pressure level, 0 is NORMAL and 4 is EMERGENCY."),
		LoadShedding:  gauge("load_shedding_active", "1 while heavy requests are rejected."),
		WorkersPaused: gauge("workers_paused", "1 while heavy workers are paused."),
		Evictions:     counter("eviction_passes_total", "Cache eviction passes run."),
		Reclaimed:     counter("eviction_reclaimed_units_total", "Units reported reclaimed by cache eviction."),
		ForcedGC:      counter("forced_gc_total", "Garbage collections forced under critical pressure."),
		ShedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "memory",
			Name:      "shed_requests_total",
			Help:      "Requests rejected with 503 while load shedding was active.",
		}, []string{"prefix"}),
	}

	reg.MustRegister(
		m.HeapUsed,
		m.HeapRatio,
		m.RSS,
		m.SchedDelay,
		m.Level,
		m.LoadShedding,
		m.WorkersPaused,
		m.Evictions,
		m.Reclaimed,
		m.ForcedGC,
		m.ShedRequests,
	)
	return m
}

func (m *Metrics) observe(sample entity.MemorySample) {
	m.HeapUsed.Set(float64(sample.HeapUsed))
	m.HeapRatio.Set(sample.HeapUsedPercent)
	m.RSS.Set(float64(sample.RSS))
	m.SchedDelay.Set(sample.SchedulerDelayMs / 1000)
}

package broadcast

import (
	"Lantern/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics of the live updates channel.
type Metrics struct {
	Connections      prometheus.Gauge
	Authenticated    prometheus.Gauge
	Subscriptions    prometheus.Gauge
	LastBroadcast    prometheus.Gauge
	EventsSent       prometheus.Counter
	SendFailures     prometheus.Counter
	UpgradesLimited  prometheus.Counter
	ThrottledUpdates prometheus.CounterFunc
}

// NewMetrics creates and registers live metrics on the given registry.
func NewMetrics(reg prometheus.Registerer, throttler *Throttler) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "live",
			Name:      "connections",
			Help:      "Number of open live connections.",
		}),
		Authenticated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "live",
			Name:      "authenticated_connections",
			Help:      "Number of open live connections with a valid session.",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "live",
			Name:      "subscriptions",
			Help:      "Entity subscriptions summed over every connection.",
		}),
		LastBroadcast: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "live",
			Name:      "last_broadcast_timestamp_seconds",
			Help:      "Unix time of the last delivered data event.",
		}),
		EventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "live",
			Name:      "events_sent_total",
			Help:      "Data events queued to connections.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "live",
			Name:      "send_failures_total",
			Help:      "Connections dropped because a frame could not be queued.",
		}),
		UpgradesLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "live",
			Name:      "upgrades_limited_total",
			Help:      "Handshakes refused by the per IP rate limit.",
		}),
		ThrottledUpdates: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "live",
			Name:      "throttled_total",
			Help:      "Updates replaced by a newer one inside the throttle window.",
		}, func() float64 { return float64(throttler.Coalesced()) }),
	}

	reg.MustRegister(
		m.Connections,
		m.Authenticated,
		m.Subscriptions,
		m.LastBroadcast,
		m.EventsSent,
		m.SendFailures,
		m.UpgradesLimited,
		m.ThrottledUpdates,
	)
	return m
}

func (m *Metrics) observe(stats RegistryStats) {
	m.Connections.Set(float64(stats.Connected))
	m.Authenticated.Set(float64(stats.Authenticated))
	m.Subscriptions.Set(float64(stats.Subscriptions))
}

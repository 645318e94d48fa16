package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the router's counters. A nil Registerer yields unregistered
// collectors, which is what tests use.
type Metrics struct {
	Events       *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	Connections  prometheus.Gauge
	Participants prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "events_total",
			Help:      "Inbound events handled by the router, by type.",
		}, []string{"type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "dropped_events_total",
			Help:      "Inbound events silently discarded, by reason.",
		}, []string{"reason"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Participants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "participants",
			Help:      "Joined participants.",
		}),
	}
}

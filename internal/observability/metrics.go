// Package observability defines the Prometheus instrumentation for the
// fanout service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and gauges for the fanout core.
type Metrics struct {
	EventsPublished *prometheus.CounterVec // label: kind
	RoomEmits       prometheus.Counter
	Broadcasts      prometheus.Counter
	FramesDropped   prometheus.Counter
	RegionsDropped  prometheus.Counter

	ActiveConnections prometheus.Gauge
	RoomJoins         prometheus.Counter
}

// NewMetrics creates the full metric set, unregistered. Tests can use a fresh
// instance without touching the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardiangrid",
			Name:      "events_published_total",
			Help:      "Domain events handed to the publisher, by event kind.",
		}, []string{"kind"}),
		RoomEmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardiangrid",
			Name:      "room_emits_total",
			Help:      "Room-targeted emits performed by the router.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardiangrid",
			Name:      "broadcasts_total",
			Help:      "Broadcast emits delivered to all connections.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardiangrid",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a connection's send queue was full.",
		}),
		RegionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardiangrid",
			Name:      "regions_dropped_total",
			Help:      "Empty or unnormalizable target regions dropped from events.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "guardiangrid",
			Name:      "active_connections",
			Help:      "Live websocket connections.",
		}),
		RoomJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guardiangrid",
			Name:      "room_joins_total",
			Help:      "Successful room join operations.",
		}),
	}
}

// Register registers every metric with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.EventsPublished,
		m.RoomEmits,
		m.Broadcasts,
		m.FramesDropped,
		m.RegionsDropped,
		m.ActiveConnections,
		m.RoomJoins,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomcast"

// Metrics holds the realtime layer's Prometheus collectors.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	OccupiedRooms     prometheus.Gauge
	EventsBroadcast   *prometheus.CounterVec
	Deliveries        prometheus.Counter
	ReapedConnections prometheus.Counter
	DroppedFrames     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered realtime connections.",
		}),
		OccupiedRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "occupied_rooms",
			Help:      "Number of rooms with at least one connection.",
		}),
		EventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_total",
			Help:      "Events dispatched, by event type.",
		}, []string{"type"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Frames queued to individual connections.",
		}),
		ReapedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "reaped_connections_total",
			Help:      "Connections removed after a failed delivery.",
		}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dropped_frames_total",
			Help:      "Inbound control frames dropped, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.OccupiedRooms,
		m.EventsBroadcast,
		m.Deliveries,
		m.ReapedConnections,
		m.DroppedFrames,
	)
	return m
}

// NewNop returns collectors registered on a private registry, for tests
// and callers that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "watchparty"

// Metrics holds the server collectors. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	commands         *prometheus.CounterVec
	snapshots        *prometheus.CounterVec
	overflows        prometheus.Counter
	heartbeatTimeout prometheus.Counter
	activeRooms      prometheus.Gauge
	connections      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled by rooms, by type and outcome",
		}, []string{"type", "outcome"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_emitted_total",
			Help:      "Snapshots fanned out to attached connections, by kind",
		}, []string{"kind"}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_overflows_total",
			Help:      "Connections closed because their outbound queue was full",
		}),
		heartbeatTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Participants disconnected after missing heartbeats",
		}),
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms held by the registry",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attached_connections",
			Help:      "Websocket connections attached to rooms",
		}),
	}

	m.registry.MustRegister(
		m.commands,
		m.snapshots,
		m.overflows,
		m.heartbeatTimeout,
		m.activeRooms,
		m.connections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CommandHandled(commandType, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(commandType, outcome).Inc()
}

func (m *Metrics) SnapshotEmitted(kind string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConnectionOverflowed() {
	if m == nil {
		return
	}
	m.overflows.Inc()
}

func (m *Metrics) HeartbeatTimedOut(n int) {
	if m == nil {
		return
	}
	m.heartbeatTimeout.Add(float64(n))
}

func (m *Metrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

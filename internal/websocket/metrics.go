package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds the Prometheus instruments for one server instance.
type serverMetrics struct {
	connectionsOpen  prometheus.Gauge
	connectionsTotal prometheus.Counter
	framesIn         prometheus.Counter
	framesOut        prometheus.Counter
	framesDropped    prometheus.Counter
	framesMalformed  prometheus.Counter
	authFailures     prometheus.Counter
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &serverMetrics{
		connectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "realtime",
			Name:      "connections_open",
			Help:      "Number of currently open WebSocket connections",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "realtime",
			Name:      "connections_total",
			Help:      "Total number of accepted WebSocket connections",
		}),
		framesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "realtime",
			Name:      "frames_received_total",
			Help:      "Total number of frames received from clients",
		}),
		framesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "realtime",
			Name:      "frames_sent_total",
			Help:      "Total number of frames queued for delivery",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "realtime",
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped on closed or congested connections",
		}),
		framesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "realtime",
			Name:      "frames_malformed_total",
			Help:      "Total number of inbound frames that failed to decode",
		}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "realtime",
			Name:      "handshake_auth_failures_total",
			Help:      "Total number of handshakes that downgraded to anonymous",
		}),
	}
}

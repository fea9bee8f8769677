package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	active     prometheus.Gauge
	accepted   prometheus.Counter
	rejected   prometheus.Counter
	closed     *prometheus.CounterVec
	broadcasts *prometheus.CounterVec
	inbound    prometheus.Counter
	dropped    prometheus.Counter
}

// newMetrics registers the hub collectors with reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		active: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chathub_connections_active",
			Help: "Number of live WebSocket connections",
		}),
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chathub_connections_accepted_total",
			Help: "Total number of accepted WebSocket connections",
		}),
		rejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "chathub_connections_rejected_total",
			Help: "Total number of WebSocket connections rejected at capacity or during shutdown",
		}),
		closed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_connections_closed_total",
			Help: "Total number of closed WebSocket connections by reason",
		}, []string{"reason"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chathub_broadcasts_total",
			Help: "Total number of broadcast events by type",
		}, []string{"type"}),
		inbound: factory.NewCounter(prometheus.CounterOpts{
			Name: "chathub_inbound_messages_total",
			Help: "Total number of inbound WebSocket messages",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chathub_inbound_dropped_total",
			Help: "Total number of inbound messages discarded by rate limiting",
		}),
	}
}

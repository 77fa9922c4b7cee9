package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	Connections prometheus.Gauge
	Joins       prometheus.Counter
	Messages    *prometheus.CounterVec // result=stored|duplicate|rejected
	Broadcasts  *prometheus.CounterVec // outcome=delivered|dropped
	Rejects     *prometheus.CounterVec // reason
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "podium",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Open websocket sessions.",
		}),
		Joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "relay",
			Name:      "joins_total",
			Help:      "join-debate frames that added a member to a room.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "sendMsg frames by persistence result.",
		}, []string{"result"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "relay",
			Name:      "broadcast_deliveries_total",
			Help:      "Per-member fanout attempts of real-time-sync-message.",
		}, []string{"outcome"}),
		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "relay",
			Name:      "rejects_total",
			Help:      "Frames or handshakes refused by the relay.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Joins, m.Messages, m.Broadcasts, m.Rejects)
	}
	return m
}

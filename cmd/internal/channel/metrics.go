package channel

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the room channel's Prometheus collectors.
type Metrics struct {
	Dials   *prometheus.CounterVec // result=ok|fail
	Joins   prometheus.Counter
	Sends   *prometheus.CounterVec // outcome=sent|buffered|dropped
	Inbound *prometheus.CounterVec // result=delivered|malformed
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "channel",
			Name:      "dials_total",
			Help:      "Relay dial attempts by result.",
		}, []string{"result"}),
		Joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "channel",
			Name:      "joins_total",
			Help:      "join-debate frames written, at most one per connection.",
		}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "channel",
			Name:      "sends_total",
			Help:      "Outbound messages by outcome.",
		}, []string{"outcome"}),
		Inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "podium",
			Subsystem: "channel",
			Name:      "inbound_total",
			Help:      "Inbound real-time-sync-message frames by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Dials, m.Joins, m.Sends, m.Inbound)
	}
	return m
}

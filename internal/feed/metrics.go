package feed

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Command outcomes.
const (
	CommandApplied   = "applied"
	CommandThrottled = "throttled"
	CommandInvalid   = "invalid"
	CommandIgnored   = "ignored"
)

// Metrics exports feed server activity.
type Metrics struct {
	subscribers prometheus.Gauge
	published   *prometheus.CounterVec
	commands    *prometheus.CounterVec
}

// NewMetrics creates the feed collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feed_subscribers",
			Help: "Number of connected subscribers",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_envelopes_published_total",
			Help: "Total number of envelopes broadcast by kind",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_commands_total",
			Help: "Total number of inbound commands by outcome",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.subscribers, m.published, m.commands} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register feed metrics: %w", err)
		}
	}
	return m, nil
}

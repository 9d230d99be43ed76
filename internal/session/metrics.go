package session

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/omochice/socket-session/pkg/protocol"
)

// Metrics exports session activity to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	messagesReceived  prometheus.Counter
	bytesReceived     prometheus.Counter
	messagesSent      prometheus.Counter
	statusTransitions *prometheus.CounterVec
	status            *prometheus.GaugeVec
	historyLength     prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_session_messages_received_total",
			Help: "Total number of messages received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_session_message_bytes_total",
			Help: "Total payload bytes received",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socket_session_messages_sent_total",
			Help: "Total number of messages sent",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socket_session_status_transitions_total",
			Help: "Total number of status transitions by target status",
		}, []string{"status"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "socket_session_status",
			Help: "1 for the current connection status, 0 otherwise",
		}, []string{"status"}),
		historyLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socket_session_history_length",
			Help: "Number of messages in the session history",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.messagesReceived,
		m.bytesReceived,
		m.messagesSent,
		m.statusTransitions,
		m.status,
		m.historyLength,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register session metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeStatus(s protocol.Status) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(s.Label()).Inc()
	for _, other := range protocol.Statuses() {
		v := 0.0
		if other == s {
			v = 1
		}
		m.status.WithLabelValues(other.Label()).Set(v)
	}
}

func (m *Metrics) observeMessage(msg protocol.Message, historyLen int) {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
	m.bytesReceived.Add(float64(len(msg.Data)))
	m.historyLength.Set(float64(historyLen))
}

func (m *Metrics) observeSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

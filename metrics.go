package taurus

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// connectorMetrics are updated only from the consumer
// goroutine, except sendsFailed which the service
// goroutine bumps; prometheus collectors are safe for that.
type connectorMetrics struct {
	attempted    prometheus.Counter
	connected    prometheus.Counter
	denied       *prometheus.CounterVec
	disconnected *prometheus.CounterVec

	msgSent     prometheus.Counter
	msgReceived prometheus.Counter
	bytesSent   prometheus.Counter
	bytesRecv   prometheus.Counter
	sendsFailed prometheus.Counter

	// stale events, dropped by the containment check.
	stale prometheus.Counter

	peers     prometheus.Gauge
	decisions prometheus.Gauge
}

func newConnectorMetrics(name string) *connectorMetrics {
	labels := prometheus.Labels{"connector": name}
	counter := func(n, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "taurus",
			Name:        n,
			Help:        help,
			ConstLabels: labels,
		})
	}
	gauge := func(n, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "taurus",
			Name:        n,
			Help:        help,
			ConstLabels: labels,
		})
	}
	byReason := func(n, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "taurus",
			Name:        n,
			Help:        help,
			ConstLabels: labels,
		}, []string{"reason"})
	}
	return &connectorMetrics{
		attempted:    counter("peers_attempted_total", "Peers registered after a connection attempt."),
		connected:    counter("peers_connected_total", "Peers accepted by the connection decision."),
		denied:       byReason("peers_denied_total", "Peers denied, by reason."),
		disconnected: byReason("peers_disconnected_total", "Peers removed from the registry, by reason."),
		msgSent:      counter("messages_sent_total", "Messages handed to the transport."),
		msgReceived:  counter("messages_received_total", "Messages delivered to the handler."),
		bytesSent:    counter("sent_bytes_total", "Frame bytes handed to the transport."),
		bytesRecv:    counter("received_bytes_total", "Raw bytes received from the transport."),
		sendsFailed:  counter("sends_failed_total", "Sends the transport could not deliver."),
		stale:        counter("stale_events_total", "Events dropped because their peer was no longer registered."),
		peers:        gauge("peers", "Peers currently registered."),
		decisions:    gauge("pending_decisions", "Connection decisions not yet resolved."),
	}
}

func (m *connectorMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.attempted, m.connected, m.denied, m.disconnected,
		m.msgSent, m.msgReceived, m.bytesSent, m.bytesRecv,
		m.sendsFailed, m.stale, m.peers, m.decisions,
	}
}

// register fails if another connector of the same Name
// already registered on reg.
func (m *connectorMetrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	var done []prometheus.Collector
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			for _, d := range done {
				reg.Unregister(d)
			}
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return fmt.Errorf("%w: metrics already registered; is Config.Name unique?: %v", ErrConfig, err)
			}
			return err
		}
		done = append(done, c)
	}
	return nil
}

func (m *connectorMetrics) unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

// Stats is a point-in-time copy of a connector's
// counters, for logs and the cmd/ tools' -json output.
type Stats struct {
	Name             string  `json:"name"`
	Peers            int     `json:"peers"`
	PendingDecisions int     `json:"pending_decisions"`
	Attempted        float64 `json:"attempted"`
	Connected        float64 `json:"connected"`
	MessagesSent     float64 `json:"messages_sent"`
	MessagesReceived float64 `json:"messages_received"`
	BytesSent        float64 `json:"bytes_sent"`
	BytesReceived    float64 `json:"bytes_received"`
	SendsFailed      float64 `json:"sends_failed"`
	StaleEvents      float64 `json:"stale_events"`
}

// value reads a counter or gauge without going through
// a registry.
func value(m prometheus.Metric) float64 {
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		return 0
	}
	if c := pb.GetCounter(); c != nil {
		return c.GetValue()
	}
	if g := pb.GetGauge(); g != nil {
		return g.GetValue()
	}
	return 0
}

func (m *connectorMetrics) snapshot(name string) Stats {
	return Stats{
		Name:             name,
		Peers:            int(value(m.peers)),
		PendingDecisions: int(value(m.decisions)),
		Attempted:        value(m.attempted),
		Connected:        value(m.connected),
		MessagesSent:     value(m.msgSent),
		MessagesReceived: value(m.msgReceived),
		BytesSent:        value(m.bytesSent),
		BytesReceived:    value(m.bytesRecv),
		SendsFailed:      value(m.sendsFailed),
		StaleEvents:      value(m.stale),
	}
}

package guide

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks transport and audio counters for the guidance channel.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent      *prometheus.CounterVec
	MessagesDropped   prometheus.Counter
	EventsReceived    *prometheus.CounterVec
	UnknownEvents     prometheus.Counter
	ReconnectAttempts prometheus.Counter
	AudioBytesSent    prometheus.Counter
	ChannelState      prometheus.Gauge
}

// NewMetrics builds and registers the metric set on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guide",
			Subsystem: "channel",
			Name:      "messages_sent_total",
			Help:      "Outbound messages written to the websocket, by type.",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guide",
			Subsystem: "channel",
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped because the channel was not connected.",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guide",
			Subsystem: "channel",
			Name:      "events_received_total",
			Help:      "Inbound events decoded from the websocket, by type.",
		}, []string{"type"}),
		UnknownEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guide",
			Subsystem: "channel",
			Name:      "unknown_events_total",
			Help:      "Inbound messages with an unrecognized type.",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guide",
			Subsystem: "channel",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts after a dropped connection.",
		}),
		AudioBytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "guide",
			Subsystem: "audio",
			Name:      "bytes_sent_total",
			Help:      "Raw PCM bytes batched into voice_input messages.",
		}),
		ChannelState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "guide",
			Subsystem: "channel",
			Name:      "state",
			Help:      "Current channel state (0 disconnected, 1 connecting, 2 connected, 3 failed).",
		}),
	}
	m.registry.MustRegister(
		m.MessagesSent, m.MessagesDropped, m.EventsReceived, m.UnknownEvents,
		m.ReconnectAttempts, m.AudioBytesSent, m.ChannelState,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

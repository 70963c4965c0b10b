// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for socket traffic. Every Context owns a Metrics
// bound to its own registry unless one is supplied, so several contexts in
// one process never collide on registration.

package control

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons reported by DroppedMessage.
const (
	DropHWM          = "hwm"
	DropUnroutable   = "unroutable"
	DropMalformed    = "malformed"
	DropUnsubscribed = "filtered"
	DropLinger       = "linger"
)

// MetricsConfig configures the collectors.
type MetricsConfig struct {
	// Namespace prefixes every metric name (default "hioload_mq").
	Namespace string
	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels
	// Registry receives the collectors. A private registry is created when nil.
	Registry *prometheus.Registry
}

// Metrics holds the engine's collectors.
type Metrics struct {
	registry     *prometheus.Registry
	messagesSent *prometheus.CounterVec
	messagesRecv *prometheus.CounterVec
	bytesSent    *prometheus.CounterVec
	bytesRecv    *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	openSockets  *prometheus.GaugeVec
	activePipes  *prometheus.GaugeVec
	reconnects   *prometheus.CounterVec
	frameCounts  prometheus.Histogram
}

// NewMetrics registers the collectors.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if cfg.Namespace == "" {
		cfg.Namespace = "hioload_mq"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	factory := promauto.With(cfg.Registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}, labels)
	}
	return &Metrics{
		registry:     cfg.Registry,
		messagesSent: counter("messages_sent_total", "Messages accepted by Send, by socket type", "socket_type"),
		messagesRecv: counter("messages_received_total", "Messages returned by Recv, by socket type", "socket_type"),
		bytesSent:    counter("bytes_sent_total", "Frame payload bytes accepted by Send", "socket_type"),
		bytesRecv:    counter("bytes_received_total", "Frame payload bytes returned by Recv", "socket_type"),
		dropped:      counter("messages_dropped_total", "Messages discarded by the engine", "socket_type", "reason"),
		openSockets:  gauge("sockets_open", "Sockets currently open", "socket_type"),
		activePipes:  gauge("pipes_active", "Pipes currently attached", "transport"),
		reconnects:   counter("reconnects_total", "Reconnect attempts by transport", "transport"),
		frameCounts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "message_frames",
			Help:        "Frames per sent message",
			ConstLabels: cfg.ConstLabels,
			Buckets:     []float64{1, 2, 3, 4, 8, 16, 64},
		}),
	}
}

// MessageSent records a message accepted for delivery.
func (m *Metrics) MessageSent(socketType string, frames, bytes int) {
	m.messagesSent.WithLabelValues(socketType).Inc()
	m.bytesSent.WithLabelValues(socketType).Add(float64(bytes))
	m.frameCounts.Observe(float64(frames))
}

// MessageReceived records a message handed to the application.
func (m *Metrics) MessageReceived(socketType string, bytes int) {
	m.messagesRecv.WithLabelValues(socketType).Inc()
	m.bytesRecv.WithLabelValues(socketType).Add(float64(bytes))
}

// DroppedMessage records a discarded message.
func (m *Metrics) DroppedMessage(socketType, reason string) {
	m.dropped.WithLabelValues(socketType, reason).Inc()
}

// SocketOpened increments the open socket gauge.
func (m *Metrics) SocketOpened(socketType string) {
	m.openSockets.WithLabelValues(socketType).Inc()
}

// SocketClosed decrements the open socket gauge.
func (m *Metrics) SocketClosed(socketType string) {
	m.openSockets.WithLabelValues(socketType).Dec()
}

// PipeAttached increments the active pipe gauge.
func (m *Metrics) PipeAttached(transport string) {
	m.activePipes.WithLabelValues(transport).Inc()
}

// PipeDetached decrements the active pipe gauge.
func (m *Metrics) PipeDetached(transport string) {
	m.activePipes.WithLabelValues(transport).Dec()
}

// Reconnect counts a reconnect attempt.
func (m *Metrics) Reconnect(transport string) {
	m.reconnects.WithLabelValues(transport).Inc()
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

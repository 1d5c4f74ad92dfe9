// Package metrics implements websocket.Metrics with Prometheus collectors
// (SPEC_FULL.md Section 4.2's metrics addition).
// It depends on package websocket for the BufferType/CloseCode types its
// interface methods accept; websocket never imports metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sullewarehouse/iiswebsocketserver/websocket"
)

// Collectors is a websocket.Metrics implementation backed by Prometheus
// counters and gauges. The zero value is not usable; construct with New.
type Collectors struct {
	handshakesTotal    *prometheus.CounterVec
	activeConnections  prometheus.Gauge
	framesReceived     *prometheus.CounterVec
	framesSent         *prometheus.CounterVec
	bytesReceived      *prometheus.CounterVec
	bytesSent          *prometheus.CounterVec
	connectionsClosed  *prometheus.CounterVec
}

// New creates a Collectors and registers it against reg. Passing
// prometheus.NewRegistry() keeps metrics isolated for tests; passing
// prometheus.DefaultRegisterer wires into the process-wide /metrics
// endpoint the host usually exposes.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		handshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsengine",
			Name:      "handshakes_total",
			Help:      "Handshake attempts, labeled by outcome.",
		}, []string{"outcome"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wsengine",
			Name:      "active_connections",
			Help:      "Connections currently upgraded and not yet closed.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsengine",
			Name:      "frames_received_total",
			Help:      "Frames delivered by Receive, labeled by buffer type.",
		}, []string{"buffer_type"}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsengine",
			Name:      "frames_sent_total",
			Help:      "Frames written by Send, labeled by buffer type.",
		}, []string{"buffer_type"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsengine",
			Name:      "bytes_received_total",
			Help:      "Payload bytes delivered by Receive, labeled by buffer type.",
		}, []string{"buffer_type"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsengine",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written by Send, labeled by buffer type.",
		}, []string{"buffer_type"}),
		connectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wsengine",
			Name:      "connections_closed_total",
			Help:      "Connections closed, labeled by close code.",
		}, []string{"close_code"}),
	}

	reg.MustRegister(
		c.handshakesTotal,
		c.activeConnections,
		c.framesReceived,
		c.framesSent,
		c.bytesReceived,
		c.bytesSent,
		c.connectionsClosed,
	)

	return c
}

// HandshakeAccepted implements websocket.Metrics.
func (c *Collectors) HandshakeAccepted() {
	c.handshakesTotal.WithLabelValues("accepted").Inc()
	c.activeConnections.Inc()
}

// HandshakeRejected implements websocket.Metrics. reason is not recorded:
// every rejection is counted under the single outcome="rejected" label, so
// the label set's cardinality does not depend on the reason text.
func (c *Collectors) HandshakeRejected(reason string) {
	c.handshakesTotal.WithLabelValues("rejected").Inc()
	_ = reason
}

// FrameReceived implements websocket.Metrics.
func (c *Collectors) FrameReceived(bt websocket.BufferType, payloadLen int) {
	label := bt.String()
	c.framesReceived.WithLabelValues(label).Inc()
	c.bytesReceived.WithLabelValues(label).Add(float64(payloadLen))
}

// FrameSent implements websocket.Metrics.
func (c *Collectors) FrameSent(bt websocket.BufferType, payloadLen int) {
	label := bt.String()
	c.framesSent.WithLabelValues(label).Inc()
	c.bytesSent.WithLabelValues(label).Add(float64(payloadLen))
}

// ConnectionClosed implements websocket.Metrics.
func (c *Collectors) ConnectionClosed(code websocket.CloseCode) {
	c.connectionsClosed.WithLabelValues(code.String()).Inc()
	c.activeConnections.Dec()
}

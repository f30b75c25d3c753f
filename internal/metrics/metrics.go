// Package metrics provides Prometheus instrumentation for the chat service:
// connection gauges, frame counters, push outcome counters, and frame
// handling latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of registered connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_active",
		Help: "Current number of active websocket connections",
	})

	// FramesTotal counts inbound frames by kind ("chat", "ping", "typing",
	// "mark_read", "unknown", "invalid").
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_frames_total",
		Help: "Total number of inbound frames processed",
	}, []string{"kind"})

	// MessagesPersisted counts chat messages by persistence result.
	MessagesPersisted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_persisted_total",
		Help: "Total number of chat messages written to the store",
	}, []string{"result"}) // result = "ok", "error"

	// PushOutcomes counts push attempts by envelope kind and outcome.
	PushOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_push_outcomes_total",
		Help: "Push delivery attempts by outcome",
	}, []string{"kind", "outcome"})

	// FrameLatency records per-frame handling latency in seconds.
	FrameLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_frame_latency_seconds",
		Help:    "Inbound frame handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// HandshakeRejections counts rejected upgrade attempts by reason.
	HandshakeRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_handshake_rejections_total",
		Help: "Rejected websocket handshakes by reason",
	}, []string{"reason"}) // reason = "no_credential", "invalid_credential", "unknown_identity"
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		FramesTotal,
		MessagesPersisted,
		PushOutcomes,
		FrameLatency,
		HandshakeRejections,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

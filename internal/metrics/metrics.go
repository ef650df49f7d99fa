// Package metrics provides Prometheus instrumentation for the chat client. It
// exposes counters for frame traffic and session transitions and a histogram
// for how long a visitor waits to be matched.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesSent counts frames written to the connection, labeled by frame type.
	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strangerchat_frames_sent_total",
		Help: "Total number of frames written to the matching service",
	}, []string{"type"})

	// FramesReceived counts frames read from the connection, labeled by frame
	// type. Frames of unknown type are counted under "unknown".
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strangerchat_frames_received_total",
		Help: "Total number of frames read from the matching service",
	}, []string{"type"})

	// FramesDropped counts frames the connection manager refused to send
	// because the connection was not open.
	FramesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strangerchat_frames_dropped_total",
		Help: "Frames not sent because the connection was not open",
	}, []string{"type"})

	// TypingSuppressed counts local input events that did not produce a typing
	// frame because the rate-limit window was still open.
	TypingSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strangerchat_typing_suppressed_total",
		Help: "Input events absorbed by the typing rate limit",
	})

	// Dials counts connection attempts by result: "open" or "failed".
	Dials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strangerchat_dials_total",
		Help: "Connection attempts to the matching service",
	}, []string{"result"})

	// StateTransitions counts session state changes.
	StateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strangerchat_state_transitions_total",
		Help: "Session state transitions",
	}, []string{"from", "to"})

	// MatchWait records the time spent in the waiting state before a match.
	MatchWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "strangerchat_match_wait_seconds",
		Help:    "Time from entering the queue to being matched",
		Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 60, 120},
	})

	// OnlineCount is the last online count reported by the presence endpoint.
	OnlineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strangerchat_online_visitors",
		Help: "Online visitors as last reported by the matching service",
	})
)

func init() {
	prometheus.MustRegister(
		FramesSent,
		FramesReceived,
		FramesDropped,
		TypingSuppressed,
		Dials,
		StateTransitions,
		MatchWait,
		OnlineCount,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

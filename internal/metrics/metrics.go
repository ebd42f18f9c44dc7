// Package metrics provides Prometheus metrics for the collector service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveBridges tracks media sessions currently relaying audio.
	ActiveBridges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collector_active_bridges",
			Help: "Number of media bridge sessions currently open",
		},
	)

	// BridgeTransitions counts coordinator state changes.
	BridgeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_bridge_transitions_total",
			Help: "Total number of bridge state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// FramesRelayed counts audio frames forwarded, by direction.
	FramesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_frames_relayed_total",
			Help: "Audio frames forwarded between telephony and the realtime model",
		},
		[]string{"direction"},
	)

	// FramesDropped counts audio frames that could not be forwarded.
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_frames_dropped_total",
			Help: "Audio frames dropped by the bridge",
		},
		[]string{"direction", "reason"},
	)

	// SessionAnomalies counts sessions that ended abnormally.
	SessionAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_session_anomalies_total",
			Help: "Call sessions terminated by a socket failure or timeout",
		},
		[]string{"reason"},
	)

	// CallsPlaced counts outbound call attempts by outcome.
	CallsPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_calls_placed_total",
			Help: "Outbound call placement attempts",
		},
		[]string{"outcome"},
	)

	// ProviderRequestDuration tracks telephony REST latency.
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_provider_request_duration_seconds",
			Help:    "Duration of telephony provider REST requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Analyses counts conversation analyses by source (model or fallback).
	Analyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_analyses_total",
			Help: "Conversation analyses produced",
		},
		[]string{"source"},
	)
)

// RecordBridgeOpened increments bridge gauges.
func RecordBridgeOpened() {
	ActiveBridges.Inc()
}

// RecordBridgeClosed decrements bridge gauges.
func RecordBridgeClosed() {
	ActiveBridges.Dec()
}

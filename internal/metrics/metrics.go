package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchd_connections_active",
		Help: "Current number of open websocket connections.",
	})
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchd_connections_total",
		Help: "Total websocket connections accepted.",
	})
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchd_frames_received_total",
		Help: "Inbound frames by message kind.",
	}, []string{"kind"})
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchd_frames_dropped_total",
		Help: "Outbound frames dropped before reaching the socket.",
	}, []string{"reason"})

	// Sessions
	SessionsLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchd_sessions_live",
		Help: "Live sessions by status.",
	}, []string{"status"})
	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchd_sessions_finished_total",
		Help: "Sessions that reached FINISHED, by reason.",
	}, []string{"reason"})
	MovesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchd_moves_applied_total",
		Help: "Accepted moves.",
	})
	MovesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchd_moves_rejected_total",
		Help: "Rejected moves by cause.",
	}, []string{"cause"})

	// Persistence
	PersistResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchd_persist_results_total",
		Help: "Finished-game persistence attempts by outcome.",
	}, []string{"outcome"})
	OutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchd_outbox_depth",
		Help: "Records waiting in the persistence outbox.",
	})
)

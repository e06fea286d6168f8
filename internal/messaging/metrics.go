// internal/messaging/metrics.go

package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_active_connections",
		Help: "Number of authenticated websocket connections",
	})

	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_connections_total",
		Help: "Total number of websocket connections accepted",
	})

	authFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_auth_failures_total",
		Help: "Total number of rejected websocket credentials",
	})

	broadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_broadcasts_total",
		Help: "Total number of broadcast envelopes by type",
	}, []string{"type"})

	signalsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_signals_dropped_total",
		Help: "Total number of inbound or outbound signals dropped by reason",
	}, []string{"reason"})

	messagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_messages_persisted_total",
		Help: "Total number of messages written to the store",
	})

	messagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_messages_relayed_total",
		Help: "Total number of messages fanned out to conversation rooms",
	})
)

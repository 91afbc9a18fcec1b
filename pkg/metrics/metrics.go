// Package metrics defines the Prometheus collectors exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "n3_connections_total",
			Help: "Total number of connections established",
		},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "n3_connections_current",
			Help: "Current number of active connections",
		},
	)

	AuthenticatedConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "n3_authenticated_connections_current",
			Help: "Current number of authenticated connections",
		},
	)

	ConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "n3_connection_duration_seconds",
			Help:    "Duration of connections in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Protocol metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "n3_commands_total",
			Help: "Total number of POP3 commands processed",
		},
		[]string{"command", "status"},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "n3_authentication_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"mechanism", "result"},
	)

	TLSUpgradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "n3_tls_upgrades_total",
			Help: "Total number of STLS transport upgrades",
		},
		[]string{"result"},
	)
)

// Storage metrics
var (
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "n3_store_operations_total",
			Help: "Total number of message store operations",
		},
		[]string{"operation", "status"},
	)

	MessagesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "n3_messages_deleted_total",
			Help: "Total number of messages removed at session end",
		},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "om_delivery"

var (
	ReceiptWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_writes_total",
			Help:      "Receipt upgrades applied to the status store, by level.",
		},
		[]string{"level"},
	)

	Recalculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalculations_total",
			Help:      "Aggregator recalculations, by outcome (written, unchanged, error).",
		},
		[]string{"outcome"},
	)

	StatusWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_writes_total",
			Help:      "Overall status values persisted by the aggregator.",
		},
		[]string{"status"},
	)

	StatusConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_cas_conflicts_total",
			Help:      "Compare-and-set conflicts while persisting an overall status.",
		},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracking_subscriptions",
			Help:      "Receipt subscriptions currently held by tracking sessions.",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracking_sessions",
			Help:      "Conversations currently tracked.",
		},
	)

	WebsocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Connected websocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ReceiptWrites,
		Recalculations,
		StatusWrites,
		StatusConflicts,
		ActiveSubscriptions,
		ActiveSessions,
		WebsocketConnections,
	)
}

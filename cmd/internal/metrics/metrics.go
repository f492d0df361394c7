// Package metrics defines all custom Prometheus metrics for muse. It is
// the single source of truth for metric names, labels, and help strings.
//
// Metrics register with the default registry via promauto; the app mounts
// promhttp on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "muse"

// MessagesTotal counts handled inbound messages.
// Label:
//   - outcome: "chat", "image", "flow", "duet", "vision", "denied",
//     "rejected", "failed"
var MessagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Total number of inbound messages handled, by outcome.",
	},
	[]string{"outcome"},
)

// CapabilityFailuresTotal counts downstream AI-provider failures.
// Label:
//   - op: "chat", "image", "speech", "vision"
var CapabilityFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capability_failures_total",
		Help:      "Total number of capability gateway failures, by operation.",
	},
	[]string{"op"},
)

// LinksIssuedTotal counts invitation links created by admins.
var LinksIssuedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "links_issued_total",
		Help:      "Total number of invitation links issued.",
	},
)

// LinksRedeemedTotal counts successful invitation-link redemptions.
var LinksRedeemedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "links_redeemed_total",
		Help:      "Total number of invitation links redeemed.",
	},
)

// WSConnections tracks currently open websocket connections.
var WSConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of currently open websocket connections.",
	},
)

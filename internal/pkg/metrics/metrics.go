// Package metrics provides Prometheus metrics for the dashboard gateway
// (RED + auth flow + proxy). Scrapeable on /metrics; dashboards and alerts
// can rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dashboard_gateway"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// LoginAttemptsTotal counts login flow outcomes (success, failure, blocked).
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// UpstreamAuthRejectionsTotal counts 401s from the backend that forced re-login.
	UpstreamAuthRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_auth_rejections_total",
			Help:      "Total number of upstream 401 responses converted to re-login redirects.",
		},
	)

	// ProxyRequestsTotal counts forwarded requests by method.
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Total number of requests forwarded to the upstream by method.",
		},
		[]string{"method"},
	)

	// WebSocketBridgesActive is the current number of bridged upgrade connections.
	WebSocketBridgesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_bridges_active",
			Help:      "Number of active bridged WebSocket connections.",
		},
	)
)

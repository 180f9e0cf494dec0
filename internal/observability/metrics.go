// Package observability exposes Prometheus metrics for the sync core and
// the local HTTP surface.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barterd_http_requests_total",
			Help: "Total number of HTTP requests processed by the daemon API.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barterd_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barterd_polls_total",
			Help: "Total number of poll ticks against the marketplace backend.",
		},
		[]string{"result"},
	)
	reconnectsScheduledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "barterd_reconnects_scheduled_total",
			Help: "Total number of backoff reconnect attempts scheduled.",
		},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barterd_sends_total",
			Help: "Total number of outbound message dispatch attempts.",
		},
		[]string{"result"},
	)
	receiptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barterd_receipts_total",
			Help: "Total number of mark-read attempts.",
		},
		[]string{"result"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barterd_outbox_queue_depth",
			Help: "Number of queued outbound messages per conversation.",
		},
		[]string{"conversation"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "barterd_active_conversation_sessions",
			Help: "Number of open conversation sessions.",
		},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "barterd_ws_active_connections",
			Help: "Number of active event-stream websocket connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		pollsTotal,
		reconnectsScheduledTotal,
		sendsTotal,
		receiptsTotal,
		queueDepth,
		activeSessions,
		wsActiveConnections,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncPoll(result string) {
	pollsTotal.WithLabelValues(result).Inc()
}

func IncReconnectScheduled() {
	reconnectsScheduledTotal.Inc()
}

func IncSend(result string) {
	sendsTotal.WithLabelValues(result).Inc()
}

func IncReceipt(result string) {
	receiptsTotal.WithLabelValues(result).Inc()
}

func SetQueueDepth(conversationID string, depth int) {
	queueDepth.WithLabelValues(conversationID).Set(float64(depth))
}

func DropQueueDepth(conversationID string) {
	queueDepth.DeleteLabelValues(conversationID)
}

func IncActiveSessions() {
	activeSessions.Inc()
}

func DecActiveSessions() {
	activeSessions.Dec()
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MachineOrder    = "order"
	MachineDelivery = "delivery"
	MachineRefund   = "refund"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_lifecycle_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_lifecycle_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_lifecycle_transitions_total",
			Help: "Attempted status transitions by state machine and outcome",
		},
		[]string{"machine", "from", "to", "result"},
	)

	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_lifecycle_notifications_total",
			Help: "Outbox notification delivery attempts by outcome",
		},
		[]string{"kind", "result"},
	)
)

// Middleware records request count and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
	}
}

// RecordTransition counts one attempted transition. An unset from state is
// reported as "none".
func RecordTransition(machine, from, to string, accepted bool) {
	if from == "" {
		from = "none"
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	transitions.WithLabelValues(machine, from, to, result).Inc()
}

// RecordNotification counts one dispatch outcome: sent, retry or failed.
func RecordNotification(kind, result string) {
	notifications.WithLabelValues(kind, result).Inc()
}

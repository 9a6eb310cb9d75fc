package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	webhooksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_processed_total",
			Help: "Total number of gateway webhooks processed, by outcome",
		},
		[]string{"outcome"},
	)

	paymentsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_completed_total",
			Help: "Total number of orders that reached COMPLETED",
		},
	)

	refundQuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refund_quotes_total",
			Help: "Total number of refund quotes computed, by eligibility",
		},
		[]string{"eligible"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(webhooksProcessedTotal)
	prometheus.MustRegister(paymentsCompletedTotal)
	prometheus.MustRegister(refundQuotesTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordWebhookProcessed(outcome string) {
	webhooksProcessedTotal.WithLabelValues(outcome).Inc()
}

func RecordPaymentCompleted() {
	paymentsCompletedTotal.Inc()
}

func RecordRefundQuote(eligible bool) {
	refundQuotesTotal.WithLabelValues(strconv.FormatBool(eligible)).Inc()
}

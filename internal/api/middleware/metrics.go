package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcode_gateway_http_requests_total",
			Help: "Total number of HTTP requests processed, by route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudcode_gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	dispatchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudcode_gateway_dispatch_attempts_total",
			Help: "Dispatched client requests, by dialect and final outcome.",
		},
		[]string{"dialect", "outcome"},
	)

	identityPoolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloudcode_gateway_identity_pool_size",
			Help: "Number of identities in the pool, by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		dispatchAttemptsTotal,
		identityPoolSize,
	)
}

// PrometheusMiddleware records request count and latency for every route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDurationSeconds.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// RecordDispatchAttempt counts one dispatched client request by dialect and
// final outcome; the API handler calls it once per request, after the
// dispatcher has finished all of its retries.
func RecordDispatchAttempt(dialect, outcome string) {
	dispatchAttemptsTotal.WithLabelValues(dialect, outcome).Inc()
}

// SetIdentityPoolGauges publishes the current pool composition; it is
// called once at startup, after the pool is loaded, so later disable or
// re-enable transitions are not reflected in the gauges.
func SetIdentityPoolGauges(active, disabled int) {
	identityPoolSize.WithLabelValues("active").Set(float64(active))
	identityPoolSize.WithLabelValues("disabled").Set(float64(disabled))
}

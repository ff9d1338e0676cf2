// Prometheus instrumentation for the ops HTTP API.
//
// Labels are kept bounded: method, the registered Gin route (raw URL path
// only when nothing matched) and the numeric status code.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askgw",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of ops HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// status is omitted to keep the histogram small
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "askgw",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of ops HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "askgw",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "Current number of in-flight ops HTTP requests.",
		},
	)

	// Image downloads dominate the upper buckets.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "askgw",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Size of ops HTTP responses in bytes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 9), // 256B..16MiB
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize)
}

// Metrics instruments every request. Mount promhttp.Handler() separately.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// -1 when nothing was written
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

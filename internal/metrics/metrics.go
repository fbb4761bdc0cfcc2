package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roomchat_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
	PollRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_poll_requests_total",
		Help: "Total number of poll requests served",
	})
	PollEventsReturned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_poll_events_returned_total",
		Help: "Total number of events returned by polls",
	})
	MessagesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_messages_created_total",
		Help: "Total number of messages created",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PollRequestsTotal,
		PollEventsReturned,
		MessagesCreatedTotal,
	)
}

// GinMiddleware records basic request metrics for Prometheus to scrape.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HTTPRequestsTotal.With(labels).Inc()
		HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

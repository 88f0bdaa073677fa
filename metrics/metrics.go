// Package metrics exposes Prometheus counters for the resolver service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ResolutionsTotal counts resolved line items by method.
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "menu_resolver",
			Subsystem: "ingest",
			Name:      "resolutions_total",
			Help:      "Total number of line item resolutions by method",
		},
		[]string{"method"},
	)

	// WorkflowActionsTotal counts admin workflow actions by outcome.
	WorkflowActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "menu_resolver",
			Subsystem: "workflow",
			Name:      "actions_total",
			Help:      "Total number of verify/merge/undo/rebuild actions by status",
		},
		[]string{"action", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "menu_resolver",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of admin API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "menu_resolver",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of admin API requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

// ObserveResolution matches ingest.WithObserver.
func ObserveResolution(method models.ResolutionMethod) {
	ResolutionsTotal.WithLabelValues(string(method)).Inc()
}

func ObserveWorkflow(action string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	WorkflowActionsTotal.WithLabelValues(action, status).Inc()
}

// GinMiddleware records request counts and latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

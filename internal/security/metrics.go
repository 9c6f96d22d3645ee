package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	memoryOpsTotal       *prometheus.CounterVec
	embedLatency         prometheus.Histogram
	searchFallbacksTotal prometheus.Counter
	activeClients        prometheus.Gauge
	queueMessages        *prometheus.GaugeVec
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server. Safe to call multiple
// times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engram_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	memoryOpsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_memory_ops_total",
			Help: "Total memory-service operations",
		},
		[]string{"op"},
	)

	embedLatency = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "engram_embed_latency_seconds",
		Help:    "Embedding provider call latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	searchFallbacksTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "engram_search_fallbacks_total",
		Help: "Searches that degraded from vector to lexical mode",
	})

	activeClients = f.NewGauge(prometheus.GaugeOpts{
		Name: "engram_active_clients",
		Help: "Number of live client service instances",
	})

	queueMessages = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engram_queue_messages",
			Help: "Queued messages by status",
		},
		[]string{"status"},
	)
}

// CountMemoryOp increments the per-operation counter. All recording
// helpers are no-ops until InitMetrics runs, so library tests do not
// need a registry.
func CountMemoryOp(op string) {
	if memoryOpsTotal != nil {
		memoryOpsTotal.WithLabelValues(op).Inc()
	}
}

// ObserveEmbedLatency records one embedding provider call.
func ObserveEmbedLatency(d time.Duration) {
	if embedLatency != nil {
		embedLatency.Observe(d.Seconds())
	}
}

// CountSearchFallback records a search that degraded from vector to
// lexical mode.
func CountSearchFallback() {
	if searchFallbacksTotal != nil {
		searchFallbacksTotal.Inc()
	}
}

// SetActiveClients publishes the number of live client services.
func SetActiveClients(n int) {
	if activeClients != nil {
		activeClients.Set(float64(n))
	}
}

// SetQueueMessages publishes the queue depth by status.
func SetQueueMessages(pending, delivered, processed int) {
	if queueMessages == nil {
		return
	}
	queueMessages.WithLabelValues("pending").Set(float64(pending))
	queueMessages.WithLabelValues("delivered").Set(float64(delivered))
	queueMessages.WithLabelValues("processed").Set(float64(processed))
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}

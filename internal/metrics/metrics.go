// Package metrics registers the engine's Prometheus instrumentation.
package metrics

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreLatency records per-operation store latency; used by the metrics
	// store wrapper.
	StoreLatency *prometheus.HistogramVec

	// SweepTransitionsTotal counts applied retention transitions by scope
	// and target state.
	SweepTransitionsTotal *prometheus.CounterVec

	// SweepFailuresTotal counts records whose transition failed after retries.
	SweepFailuresTotal prometheus.Counter

	// DedupGroupsTotal counts dedup groups found, by confidence tier.
	DedupGroupsTotal *prometheus.CounterVec

	// MergeDuration records end-to-end context merge latency.
	MergeDuration prometheus.Histogram

	// MergeScopeTimeoutsTotal counts scopes that timed out during a merge
	// fan-out and contributed an empty result set.
	MergeScopeTimeoutsTotal prometheus.Counter

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// DBPoolOpenConnections tracks the number of currently open database connections.
	DBPoolOpenConnections prometheus.Gauge

	// DBPoolMaxConnections tracks the configured maximum database connections.
	DBPoolMaxConnections prometheus.Gauge

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable
// expansion. Returns nil for an empty string.
func ParseLabels(s string) (prometheus.Labels, error) {
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

var initOnce sync.Once

// Init registers all Prometheus metrics with the given constant labels.
// Safe to call multiple times; only the first call registers.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() {
		initInner(constLabels)
	})
}

func initInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_policy_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	SweepTransitionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_policy_sweep_transitions_total",
			Help: "Retention transitions applied by sweeps",
		},
		[]string{"scope", "state"},
	)

	SweepFailuresTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memory_policy_sweep_failures_total",
		Help: "Records whose retention transition failed after retries",
	})

	DedupGroupsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_policy_dedup_groups_total",
			Help: "Deduplication groups found",
		},
		[]string{"tier"},
	)

	MergeDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "memory_policy_merge_duration_seconds",
		Help:    "Context merge latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	MergeScopeTimeoutsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memory_policy_merge_scope_timeouts_total",
		Help: "Scopes that timed out during merge fan-out",
	})

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memory_policy_cache_hits_total",
		Help: "Total cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memory_policy_cache_misses_total",
		Help: "Total cache misses",
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "memory_policy_db_pool_open_connections",
		Help: "Number of open database connections",
	})

	DBPoolMaxConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "memory_policy_db_pool_max_connections",
		Help: "Maximum number of database connections",
	})

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memory_policy_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memory_policy_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
}

// ObserveTransition records one applied sweep transition. No-op before Init.
func ObserveTransition(scope, state string) {
	if SweepTransitionsTotal != nil {
		SweepTransitionsTotal.WithLabelValues(scope, state).Inc()
	}
}

// ObserveDedupGroup records one found dedup group. No-op before Init.
func ObserveDedupGroup(tier string) {
	if DedupGroupsTotal != nil {
		DedupGroupsTotal.WithLabelValues(tier).Inc()
	}
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

// AccessLogMiddleware logs each HTTP request with method, path, status, and duration.
// Paths listed in skipPaths are silently passed through without logging.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", duration,
			"clientIP", c.ClientIP(),
		)
	}
}

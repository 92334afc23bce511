package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "campusconnect",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusconnect",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campusconnect",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	coinsDebited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusconnect",
			Subsystem: "ledger",
			Name:      "coins_debited_total",
			Help:      "Coins charged, by reason.",
		},
		[]string{"reason"},
	)

	coinsCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusconnect",
			Subsystem: "ledger",
			Name:      "coins_credited_total",
			Help:      "Coins granted, by reason.",
		},
		[]string{"reason"},
	)

	likeOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusconnect",
			Subsystem: "likes",
			Name:      "outcomes_total",
			Help:      "Like attempts by outcome.",
		},
		[]string{"outcome"},
	)

	blindMatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campusconnect",
			Subsystem: "blind",
			Name:      "matches_total",
			Help:      "Blind-date sessions created.",
		},
	)

	blindTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusconnect",
			Subsystem: "blind",
			Name:      "session_transitions_total",
			Help:      "Blind-date session transitions, by resulting state or end reason.",
		},
		[]string{"transition"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campusconnect",
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Cleanup sweeper runs.",
		},
		[]string{"success"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "campusconnect",
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of cleanup sweeper runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	sweepRemovedQueue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campusconnect",
			Subsystem: "sweeper",
			Name:      "queue_entries_removed_total",
			Help:      "Stale queue entries removed by the sweeper.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		coinsDebited,
		coinsCredited,
		likeOutcomes,
		blindMatches,
		blindTransitions,
		sweepRuns,
		sweepDuration,
		sweepRemovedQueue,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency for gin routes.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordDebit(reason string, amount int) {
	coinsDebited.WithLabelValues(reason).Add(float64(amount))
}

func RecordCredit(reason string, amount int) {
	coinsCredited.WithLabelValues(reason).Add(float64(amount))
}

func RecordLikeOutcome(outcome string) {
	likeOutcomes.WithLabelValues(outcome).Inc()
}

func RecordBlindMatch() {
	blindMatches.Inc()
}

func RecordSessionTransition(transition string, n int) {
	if n <= 0 {
		return
	}
	blindTransitions.WithLabelValues(transition).Add(float64(n))
}

// RecordSweep records one sweeper run.
func RecordSweep(duration time.Duration, queueRemoved int64, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	sweepRuns.WithLabelValues(strconv.FormatBool(success)).Inc()
	sweepDuration.Observe(duration.Seconds())
	sweepRemovedQueue.Add(float64(queueRemoved))
}

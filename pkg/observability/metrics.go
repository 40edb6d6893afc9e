package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Debate metrics
	debatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "councilgo_debates_total",
			Help: "Total number of debates by outcome",
		},
		[]string{"outcome"},
	)

	debateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "councilgo_debate_duration_seconds",
			Help:    "Debate duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"outcome"},
	)

	debateConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "councilgo_debate_confidence",
			Help:    "Final confidence score distribution (0-100)",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// Expert metrics
	expertInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "councilgo_expert_invocations_total",
			Help: "Total number of expert invocations",
		},
		[]string{"expert", "status"},
	)

	expertDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "councilgo_expert_duration_seconds",
			Help:    "Expert invocation duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"expert"},
	)

	// Retry metrics
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "councilgo_retries_total",
			Help: "Total number of retries by error kind",
		},
		[]string{"kind"},
	)

	// Cache metrics
	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "councilgo_cache_lookups_total",
			Help: "Total number of cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	cacheTokensSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "councilgo_cache_tokens_saved_total",
			Help: "Estimated tokens saved by cache hits",
		},
	)

	// System metrics
	activeDebates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "councilgo_active_debates",
			Help: "Number of debates in flight",
		},
	)

	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "councilgo_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			debatesTotal,
			debateDuration,
			debateConfidence,
			expertInvocationsTotal,
			expertDuration,
			retriesTotal,
			cacheLookupsTotal,
			cacheTokensSaved,
			activeDebates,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordDebate records one finished debate.
func RecordDebate(outcome string, duration time.Duration) {
	debatesTotal.WithLabelValues(outcome).Inc()
	debateDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordConfidence records a final confidence score.
func RecordConfidence(score float64) {
	debateConfidence.Observe(score)
}

// RecordExpertInvocation records one expert call.
func RecordExpertInvocation(expert, status string, duration time.Duration) {
	expertInvocationsTotal.WithLabelValues(expert, status).Inc()
	expertDuration.WithLabelValues(expert).Observe(duration.Seconds())
}

// RecordRetry records one retry by error kind.
func RecordRetry(kind string) {
	retriesTotal.WithLabelValues(kind).Inc()
}

// RecordCacheLookup records a cache lookup outcome ("hit" or "miss").
func RecordCacheLookup(outcome string) {
	cacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// AddCacheTokensSaved adds to the tokens-saved counter.
func AddCacheTokensSaved(tokens int64) {
	cacheTokensSaved.Add(float64(tokens))
}

// SetActiveDebates sets the in-flight debates gauge.
func SetActiveDebates(count int) {
	activeDebates.Set(float64(count))
}

// SetGoroutines sets the goroutines gauge
func SetGoroutines(count int) {
	goroutines.Set(float64(count))
}

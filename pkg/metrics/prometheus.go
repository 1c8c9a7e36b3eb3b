package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fetchesTotal   *prometheus.CounterVec
	cacheTotal     *prometheus.CounterVec
	softFailsTotal *prometheus.CounterVec
	acquireWait    prometheus.Histogram
	stageSize      *prometheus.GaugeVec
	runDuration    prometheus.Histogram
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		fetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketscreener_fetches_total",
				Help: "Total per-symbol fetches by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		cacheTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketscreener_cache_requests_total",
				Help: "Cache lookups by result",
			},
			[]string{"result"},
		),
		softFailsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketscreener_soft_fails_total",
				Help: "Per-symbol failures by category",
			},
			[]string{"category"},
		),
		acquireWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketscreener_rate_limit_wait_seconds",
				Help:    "Time spent waiting for a rate limit slot",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
		stageSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketscreener_stage_size",
				Help: "Symbol count surviving each screening stage",
			},
			[]string{"stage"},
		),
		runDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marketscreener_run_duration_seconds",
				Help:    "Duration of complete screening runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
	}
}

// RecordFetch records one per-symbol fetch outcome.
func (r *Recorder) RecordFetch(kind, outcome string) {
	r.fetchesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordCache records a cache lookup.
func (r *Recorder) RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheTotal.WithLabelValues(result).Inc()
}

// RecordSoftFail records a per-symbol failure by category.
func (r *Recorder) RecordSoftFail(category string) {
	r.softFailsTotal.WithLabelValues(category).Inc()
}

// RecordAcquireWait records time spent waiting on the rate limiter.
func (r *Recorder) RecordAcquireWait(seconds float64) {
	r.acquireWait.Observe(seconds)
}

// RecordStage records the number of symbols surviving a stage.
func (r *Recorder) RecordStage(stage string, count int) {
	r.stageSize.WithLabelValues(stage).Set(float64(count))
}

// RecordRunDuration records a completed run's duration in seconds.
func (r *Recorder) RecordRunDuration(seconds float64) {
	r.runDuration.Observe(seconds)
}

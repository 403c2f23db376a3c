// Package metrics records pipeline activity in Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"market-snapshot/internal/cache"
)

type Recorder struct {
	cacheResults   *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	forecasts      *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	runDuration    prometheus.Histogram
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// the server and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cacheResults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_cache_results_total",
				Help: "Cache lookups by entry kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		upstreamErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_upstream_errors_total",
				Help: "Upstream fetches that degraded to a sentinel value",
			},
			[]string{"kind"},
		),
		forecasts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_forecast_calls_total",
				Help: "Forecast calls by outcome",
			},
			[]string{"outcome"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "snapshot_last_price",
				Help: "Last quoted price for a symbol",
			},
			[]string{"symbol"},
		),
		runDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "snapshot_run_duration_seconds",
				Help:    "Wall clock duration of snapshot runs",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func (r *Recorder) ObserveCache(kind string, outcome cache.Outcome) {
	r.cacheResults.WithLabelValues(kind, string(outcome)).Inc()
}

func (r *Recorder) ObserveForecast(outcome string) {
	r.forecasts.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordUpstreamError(kind string) {
	r.upstreamErrors.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordRun(d time.Duration) {
	r.runDuration.Observe(d.Seconds())
}

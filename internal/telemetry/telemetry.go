package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"silver-stress-tracker/internal/snapshot"
	"silver-stress-tracker/internal/stress"
)

const namespace = "silverwatch"

// Metrics holds the Prometheus collectors of one process. Each instance owns
// its registry so tests can create as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	FetchErrors   *prometheus.CounterVec
	Observations  *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec

	CompositeScore prometheus.Gauge
	CompositeTotal prometheus.Gauge
	MetricStatus   *prometheus.GaugeVec
	MetricValue    *prometheus.GaugeVec
	SpotPrice      prometheus.Gauge
	LastUpdated    prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Collection cycles by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a collection cycle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Failed fetches by source.",
		}, []string{"source"}),
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_total",
			Help:      "Stored observations by source and provider.",
		}, []string{"source", "provider"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		}, []string{"provider"}),
		CompositeScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "composite_score",
			Help:      "Number of indicators currently normalizing.",
		}),
		CompositeTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "composite_total",
			Help:      "Number of indicators with data.",
		}),
		MetricStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_status",
			Help:      "Indicator status severity (0 green, 1 yellow, 2 orange, 3 red, 4 gray).",
		}, []string{"metric"}),
		MetricValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_value",
			Help:      "Latest raw value of each indicator.",
		}, []string{"metric"}),
		SpotPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spot_price_usd",
			Help:      "Latest silver spot price.",
		}),
		LastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_updated_timestamp_seconds",
			Help:      "Unix time of the latest snapshot.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Cycles, m.CycleDuration, m.FetchErrors, m.Observations, m.BreakerState,
		m.CompositeScore, m.CompositeTotal, m.MetricStatus, m.MetricValue,
		m.SpotPrice, m.LastUpdated,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(result string, elapsed time.Duration) {
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
}

// FetchFailed counts a source whose whole provider chain failed.
func (m *Metrics) FetchFailed(source string) {
	m.FetchErrors.WithLabelValues(source).Inc()
}

// Stored counts an observation appended for source.
func (m *Metrics) Stored(source, provider string) {
	m.Observations.WithLabelValues(source, provider).Inc()
}

// BreakerChanged tracks breaker transitions; it matches fetcher.GuardOptions.OnStateChange.
func (m *Metrics) BreakerChanged(provider string, _, to gobreaker.State) {
	m.BreakerState.WithLabelValues(provider).Set(float64(to))
}

// Record publishes the current metrics. Absent indicators report gray.
func (m *Metrics) Record(current snapshot.Metrics) {
	m.CompositeScore.Set(float64(current.Composite.Score))
	m.CompositeTotal.Set(float64(current.Composite.Total))
	if !current.LastUpdated.IsZero() {
		m.LastUpdated.Set(float64(current.LastUpdated.Unix()))
	}
	if current.Spot != nil {
		m.SpotPrice.Set(current.Spot.PriceUSD)
	}

	for name, metric := range current.ByName() {
		if metric == nil {
			m.MetricStatus.WithLabelValues(name).Set(float64(stress.Gray.Severity()))
			m.MetricValue.DeleteLabelValues(name)
			continue
		}
		m.MetricStatus.WithLabelValues(name).Set(float64(metric.StatusColor.Severity()))
		m.MetricValue.WithLabelValues(name).Set(metric.Value)
	}
}

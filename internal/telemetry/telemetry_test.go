package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silver-stress-tracker/internal/snapshot"
	"silver-stress-tracker/internal/stress"
)

func TestRecordPublishesStatuses(t *testing.T) {
	m := New()
	current := snapshot.Metrics{
		LastUpdated: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
		Spot:        &snapshot.Spot{PriceUSD: 31.25},
		Premium:     &stress.NormalizedMetric{Value: 12.5, StatusColor: stress.Green},
		Margin:      &stress.NormalizedMetric{Value: 25000, StatusColor: stress.Red},
		Composite:   stress.CompositeScore{Score: 1, Total: 2},
	}
	m.Record(current)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompositeScore))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CompositeTotal))
	assert.Equal(t, 31.25, testutil.ToFloat64(m.SpotPrice))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MetricStatus.WithLabelValues(stress.MetricPremium)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MetricStatus.WithLabelValues(stress.MetricMargin)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.MetricStatus.WithLabelValues(stress.MetricLeaseRate)))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.MetricValue.WithLabelValues(stress.MetricPremium)))
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ObserveCycle("success", 2*time.Second)
	m.FetchFailed("premium")
	m.FetchFailed("premium")
	m.Stored("spot", "yahoo")
	m.BreakerChanged("spot/yahoo", gobreaker.StateClosed, gobreaker.StateOpen)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchErrors.WithLabelValues("premium")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("spot/yahoo")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "silverwatch_fetch_errors_total")
	assert.Contains(t, rec.Body.String(), `silverwatch_observations_total{provider="yahoo",source="spot"} 1`)
}

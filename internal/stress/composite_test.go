package stress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flags(values ...bool) map[string]*NormalizedMetric {
	out := make(map[string]*NormalizedMetric, len(values))
	for i, v := range values {
		out[StressMetrics[i]] = &NormalizedMetric{Metric: StressMetrics[i], IsNormalizing: v}
	}
	return out
}

func TestCompositeBands(t *testing.T) {
	e := newTestEngine(t, nil)

	all := e.Composite(flags(true, true, true, true))
	assert.Equal(t, 4, all.Score)
	assert.Equal(t, 4, all.Total)
	assert.Equal(t, Green, all.StatusColor)
	assert.Equal(t, "4/4 indicators normalizing", all.Description)
	assert.Equal(t, 100.0, all.Percentage)

	mixed := e.Composite(flags(true, false, false, true))
	assert.Equal(t, 2, mixed.Score)
	assert.Equal(t, Yellow, mixed.StatusColor)

	one := e.Composite(flags(true, false, false, false))
	assert.Equal(t, Orange, one.StatusColor)
	assert.Equal(t, 25.0, one.Percentage)

	none := e.Composite(flags(false, false, false, false))
	assert.Equal(t, 0, none.Score)
	assert.Equal(t, 4, none.Total)
	assert.Equal(t, Red, none.StatusColor)
}

func TestCompositeExcludesAbsentMetrics(t *testing.T) {
	e := newTestEngine(t, nil)
	metrics := flags(true, true, true)
	metrics[MetricShanghaiPremium] = nil

	got := e.Composite(metrics)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, Green, got.StatusColor)
}

func TestCompositeNoData(t *testing.T) {
	e := newTestEngine(t, nil)

	got := e.Composite(map[string]*NormalizedMetric{MetricMargin: nil})
	assert.Equal(t, Gray, got.StatusColor)
	assert.Equal(t, "No Data", got.StatusLabel)
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, 0, got.Total)
}

func TestCompositeUsesConfiguredBands(t *testing.T) {
	e := newTestEngine(t, func(c *Config) {
		c.CompositeBands = []Band{
			{MinRatio: 0.9, Color: Green, Label: "Calm"},
			{MinRatio: 0, Color: Red, Label: "Not calm"},
		}
	})
	got := e.Composite(flags(true, true, true, false))
	assert.Equal(t, Red, got.StatusColor)
	assert.Equal(t, "Not calm", got.StatusLabel)
}

func TestCompositeMonotonicInNormalizingCount(t *testing.T) {
	e := newTestEngine(t, nil)
	for total := 1; total <= len(StressMetrics); total++ {
		for n := 0; n <= total; n++ {
			values := make([]bool, total)
			for i := 0; i < n; i++ {
				values[i] = true
			}
			base := e.Composite(flags(values...))

			if total < len(StressMetrics) {
				more := e.Composite(flags(append(values, true)...))
				require.LessOrEqual(t, more.StatusColor.Severity(), base.StatusColor.Severity(),
					"adding a normalizing metric to %d/%d worsened composite", n, total)
			}
		}
	}
}

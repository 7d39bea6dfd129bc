package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseRateProxy(t *testing.T) {
	cases := []struct {
		name    string
		spot    float64
		futures float64
		days    int
		want    float64
	}{
		{"contango", 25, 25.5, 90, 8.1111},
		{"backwardation", 30, 29.7, 30, -12.1667},
		{"flat", 30, 30, 90, 0},
		{"zero days", 25, 26, 0, 0},
		{"negative days", 25, 26, -5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LeaseRateProxy(decimal.NewFromFloat(tc.spot), decimal.NewFromFloat(tc.futures), tc.days)
			assert.InDelta(t, tc.want, got.InexactFloat64(), 1e-4)
		})
	}
}

func TestShanghaiFromWestern(t *testing.T) {
	q := ShanghaiFromWestern(decimal.NewFromFloat(31.2), decimal.NewFromFloat(11.58), "SGE")
	assert.Equal(t, 42.78, q.ShanghaiSpot)
	assert.Equal(t, 11.58, q.PremiumUSD)
	assert.InDelta(t, 37.1154, q.PremiumPct, 1e-4)

	zero := ShanghaiFromWestern(decimal.Zero, decimal.NewFromInt(1), "SGE")
	assert.Zero(t, zero.PremiumPct)
}

func TestShanghaiProvider(t *testing.T) {
	p := ShanghaiProvider(func(context.Context) (float64, error) { return 30, nil }, 1.5)
	q, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 31.5, q.ShanghaiSpot)
	assert.Equal(t, 5.0, q.PremiumPct)

	_, err = ShanghaiProvider(func(context.Context) (float64, error) { return 0, nil }, 1.5).Fetch(context.Background())
	assert.Error(t, err)
}

func TestPremiumFromPricesRejectsZeroPaper(t *testing.T) {
	_, err := PremiumFromPrices("x", "coin", decimal.Zero, decimal.NewFromInt(10))
	assert.Error(t, err)
}

func TestDeferredSymbol(t *testing.T) {
	jan := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "SIF26.CMX", DeferredSymbol(jan, 0))
	assert.Equal(t, "SIJ26.CMX", DeferredSymbol(jan, 3))
	assert.Equal(t, "SIZ26.CMX", DeferredSymbol(jan, 11))
	assert.Equal(t, "SIF27.CMX", DeferredSymbol(jan, 12))
	assert.Equal(t, "SIH27.CMX", DeferredSymbol(time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), 4))
}

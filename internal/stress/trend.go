package stress

import (
	"math"
	"time"
)

// Trend is the short-window direction of a mean-reverting series.
type Trend string

const (
	TrendUnknown    Trend = "unknown"
	TrendRecovering Trend = "recovering"
	TrendDeclining  Trend = "declining"
	TrendStable     Trend = "stable"
)

// DefaultTrendThreshold is the change, in millions of ounces, that separates stable from moving.
const DefaultTrendThreshold = 5.0

// Point is one (timestamp, value) sample.
type Point struct {
	At    time.Time
	Value float64
}

// TrendResult describes a series over its window.
type TrendResult struct {
	Trend      Trend   `json:"trend"`
	Change     float64 `json:"change"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	DataPoints int     `json:"data_points"`
}

// EstimateTrend compares the first and last points falling in [now-window, now].
// Points must be ascending by time.
func EstimateTrend(points []Point, window time.Duration, now time.Time, threshold float64) TrendResult {
	cutoff := now.Add(-window)
	inWindow := make([]Point, 0, len(points))
	for _, p := range points {
		if p.At.Before(cutoff) || p.At.After(now) {
			continue
		}
		inWindow = append(inWindow, p)
	}

	if len(inWindow) < 2 {
		return TrendResult{Trend: TrendUnknown, DataPoints: len(inWindow)}
	}

	first := inWindow[0].Value
	last := inWindow[len(inWindow)-1].Value
	change := last - first

	trend := TrendStable
	switch {
	case change > threshold:
		trend = TrendRecovering
	case change < -threshold:
		trend = TrendDeclining
	}

	return TrendResult{
		Trend:      trend,
		Change:     round(change, 2),
		Start:      round(first, 2),
		End:        round(last, 2),
		DataPoints: len(inWindow),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

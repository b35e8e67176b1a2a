package decision

import (
	"context"
	"math"
	"time"
)

// SnapshotPoint is one historical KimchiSnapshot premium reading.
type SnapshotPoint struct {
	CreatedAt  time.Time
	PremiumPct float64
}

// SnapshotReader reads KimchiSnapshot rows for a coin, ordered by creation
// time ascending, within the requested window.
type SnapshotReader interface {
	PremiumHistory(ctx context.Context, coin string, window time.Duration) ([]SnapshotPoint, error)
}

// TrendDirection classifies the movement of the premium across a window.
type TrendDirection string

const (
	TrendRising  TrendDirection = "rising"
	TrendFalling TrendDirection = "falling"
	TrendStable  TrendDirection = "stable"
)

// Trend is the result of PremiumTrend: a direction and an annualization-free
// volatility measure (population standard deviation of premium % readings).
type Trend struct {
	Direction    TrendDirection
	VolatilityPct float64
}

var stableTrend = Trend{Direction: TrendStable, VolatilityPct: 0}

// PremiumTrend reads snapshot rows for coin within windowHours from reader,
// requiring at least 2 points. Direction is "rising" if the last reading
// exceeds the first by more than 0.3, "falling" if less than -0.3,
// otherwise "stable". Volatility is the population standard deviation of
// the premium % readings across the window. Any error (including fewer
// than 2 points) returns {stable, 0}.
func PremiumTrend(ctx context.Context, reader SnapshotReader, coin string, windowHours float64) Trend {
	if reader == nil {
		return stableTrend
	}
	points, err := reader.PremiumHistory(ctx, coin, time.Duration(windowHours*float64(time.Hour)))
	if err != nil || len(points) < 2 {
		return stableTrend
	}

	first := points[0].PremiumPct
	last := points[len(points)-1].PremiumPct
	delta := last - first

	direction := TrendStable
	if delta > 0.3 {
		direction = TrendRising
	} else if delta < -0.3 {
		direction = TrendFalling
	}

	mean := 0.0
	for _, p := range points {
		mean += p.PremiumPct
	}
	mean /= float64(len(points))

	variance := 0.0
	for _, p := range points {
		d := p.PremiumPct - mean
		variance += d * d
	}
	variance /= float64(len(points))

	return Trend{Direction: direction, VolatilityPct: math.Sqrt(variance)}
}

package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlippageFromAsksZeroNotional(t *testing.T) {
	asks := []AskLevel{{Price: 100, Quantity: 10}}
	assert.Equal(t, DefaultSlippageFallbackPct, SlippageFromAsks(asks, 0))
}

func TestSlippageFromAsksFullyFillsAtBestLevel(t *testing.T) {
	asks := []AskLevel{{Price: 100, Quantity: 10}, {Price: 110, Quantity: 10}}
	assert.Equal(t, 0.0, SlippageFromAsks(asks, 500))
}

func TestSlippageFromAsksWalksMultipleLevels(t *testing.T) {
	asks := []AskLevel{{Price: 100, Quantity: 1}, {Price: 110, Quantity: 10}}
	// Notional 200: level 1 covers 100 (1 unit), remaining 100 from level 2
	// at 110 => 100/110 units. VWAP = 200 / (1+100/110).
	got := SlippageFromAsks(asks, 200)
	assert.Greater(t, got, 0.0)
}

func TestSlippageFromAsksEmptyBook(t *testing.T) {
	assert.Equal(t, DefaultSlippageFallbackPct, SlippageFromAsks(nil, 100))
}

func TestSlippageNeverNegative(t *testing.T) {
	asks := []AskLevel{{Price: 100, Quantity: 1000}}
	got := SlippageFromAsks(asks, 1_000_000)
	assert.GreaterOrEqual(t, got, 0.0)
}

type stubSnapshotReader struct {
	points []SnapshotPoint
	err    error
}

func (s stubSnapshotReader) PremiumHistory(ctx context.Context, coin string, window time.Duration) ([]SnapshotPoint, error) {
	return s.points, s.err
}

func TestPremiumTrendRequiresTwoPoints(t *testing.T) {
	reader := stubSnapshotReader{points: []SnapshotPoint{{PremiumPct: 1.0}}}
	got := PremiumTrend(context.Background(), reader, "BTC", 6)
	assert.Equal(t, stableTrend, got)
}

func TestPremiumTrendConstantSeriesIsStable(t *testing.T) {
	now := time.Now()
	reader := stubSnapshotReader{points: []SnapshotPoint{
		{CreatedAt: now, PremiumPct: 1.5},
		{CreatedAt: now.Add(time.Hour), PremiumPct: 1.5},
		{CreatedAt: now.Add(2 * time.Hour), PremiumPct: 1.5},
	}}
	got := PremiumTrend(context.Background(), reader, "BTC", 6)
	assert.Equal(t, TrendStable, got.Direction)
	assert.Equal(t, 0.0, got.VolatilityPct)
}

func TestPremiumTrendRisingAndFalling(t *testing.T) {
	reader := stubSnapshotReader{points: []SnapshotPoint{{PremiumPct: 0.0}, {PremiumPct: 1.0}}}
	assert.Equal(t, TrendRising, PremiumTrend(context.Background(), reader, "BTC", 6).Direction)

	reader = stubSnapshotReader{points: []SnapshotPoint{{PremiumPct: 1.0}, {PremiumPct: 0.0}}}
	assert.Equal(t, TrendFalling, PremiumTrend(context.Background(), reader, "BTC", 6).Direction)
}

func TestPremiumTrendOnErrorReturnsStable(t *testing.T) {
	reader := stubSnapshotReader{err: errors.New("db down")}
	assert.Equal(t, stableTrend, PremiumTrend(context.Background(), reader, "BTC", 6))
}

func TestComputeActionExecuteWaitSkip(t *testing.T) {
	// High profit, low slippage/risk => EXECUTE.
	d := ComputeAction(3.0, 0.05, 30, 0.1)
	assert.Equal(t, ActionExecute, d.Action)
	assert.GreaterOrEqual(t, d.Confidence, 0.80)

	// Small positive score => WAIT.
	d = ComputeAction(0.5, 0.1, 30, 0.1)
	assert.Equal(t, ActionWait, d.Action)

	// Negative score => SKIP.
	d = ComputeAction(-1.0, 0.1, 30, 0.1)
	assert.Equal(t, ActionSkip, d.Action)
}

func TestComputeActionConfidenceAlwaysClipped(t *testing.T) {
	d := ComputeAction(100, 0, 0, 0)
	assert.LessOrEqual(t, d.Confidence, 0.95)
	assert.GreaterOrEqual(t, d.Confidence, 0.10)

	d = ComputeAction(-100, 0, 0, 0)
	assert.LessOrEqual(t, d.Confidence, 0.95)
	assert.GreaterOrEqual(t, d.Confidence, 0.10)
}

func TestComputeActionDeterministic(t *testing.T) {
	d1 := ComputeAction(1.5, 0.2, 10, 0.3)
	d2 := ComputeAction(1.5, 0.2, 10, 0.3)
	assert.Equal(t, d1, d2)
}

func TestScenarioCOpportunityDecision(t *testing.T) {
	// KimchiRow{BTC, premiumPct=+1.5}, slippage 0.05%, stable trend 0.1% vol,
	// net profit approx premium minus trading fees ~ 1.15.
	d := ComputeAction(1.15, 0.05, 30, 0.1)
	assert.Equal(t, ActionExecute, d.Action)
	assert.InDelta(t, 0.83, d.Confidence, 0.05)
}

func TestRound2HalfToEven(t *testing.T) {
	assert.Equal(t, 0.12, Round2(0.125)) // 12.5 -> even 12
	assert.Equal(t, 0.14, Round2(0.135)) // 13.5 -> even 14
}

package analytics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/pkg/models"
)

func TestSpreadPct(t *testing.T) {
	assert.InDelta(t, 1.0, analytics.SpreadPct(101, 100), 1e-9)
	assert.InDelta(t, 1.0, analytics.SpreadPct(99, 100), 1e-9)
	assert.Equal(t, 0.0, analytics.SpreadPct(100, -1))
}

func TestTightnessScoreBreakpoints(t *testing.T) {
	cases := []struct {
		spread float64
		want   float64
	}{
		{0, 100},
		{0.005, 100},
		{0.01, 99},
		{0.05, 95},
		{0.1, 89},
		{0.5, 85},
		{1, 49},
		{10, 40},
		{50, 0},
		{80, 0},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, analytics.TightnessScore(c.spread), 1e-9, "spread %v", c.spread)
	}
}

func TestTightnessScoreMonotone(t *testing.T) {
	prev := analytics.TightnessScore(0)
	assert.Equal(t, 100.0, prev)
	for s := 0.0; s <= 60; s += 0.0005 {
		score := analytics.TightnessScore(s)
		assert.LessOrEqual(t, score, prev+1e-9, "spread %v", s)
		assert.GreaterOrEqual(t, score, 0.0)
		prev = score
	}
}

func TestRatings(t *testing.T) {
	assert.Equal(t, "Excellent", analytics.TightnessRating(95))
	assert.Equal(t, "Good", analytics.TightnessRating(85))
	assert.Equal(t, "Fair", analytics.TightnessRating(70))
	assert.Equal(t, "Poor", analytics.TightnessRating(69.9))

	assert.Equal(t, "Excellent", analytics.PlatformHealth(96))
	assert.Equal(t, "Good", analytics.PlatformHealth(90))
	assert.Equal(t, "Fair", analytics.PlatformHealth(80))
	assert.Equal(t, "Poor", analytics.PlatformHealth(79))
}

func TestSpreadTrend(t *testing.T) {
	assert.Equal(t, analytics.TrendInsufficientData, analytics.SpreadTrend([]float64{1}))
	assert.Equal(t, analytics.TrendImproving, analytics.SpreadTrend([]float64{1, 1, 0.5, 0.5}))
	assert.Equal(t, analytics.TrendDegrading, analytics.SpreadTrend([]float64{0.5, 0.5, 1, 1}))
	assert.Equal(t, analytics.TrendStable, analytics.SpreadTrend([]float64{1, 1, 1.05, 1}))
}

func TestOracleHealth(t *testing.T) {
	now := time.Now().UTC()
	report := analytics.OracleHealth([]models.MarketSnapshot{
		{Coin: "xyz:TSLA", SpreadPct: 0.5, TightnessScore: 85, Timestamp: now},
		{Coin: "xyz:NVDA", SpreadPct: 0, TightnessScore: 100, Timestamp: now},
	})
	assert.Equal(t, 2, report.NumAssets)
	assert.Equal(t, "xyz:NVDA", report.Assets[0].Coin)
	assert.Equal(t, "Excellent", report.Assets[0].Rating)
	assert.InDelta(t, 92.5, report.AvgTightnessScore, 1e-9)
	assert.InDelta(t, 0.25, report.AvgSpreadPct, 1e-9)
	assert.Equal(t, "Good", report.PlatformHealth)

	empty := analytics.OracleHealth(nil)
	assert.Equal(t, 0, empty.NumAssets)
	assert.Equal(t, "Poor", empty.PlatformHealth)
}

func TestOracleHistory(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var history []models.MarketSnapshot
	for i, s := range []float64{0.4, 0.4, 0.2, 0.2} {
		history = append(history, models.MarketSnapshot{Coin: "xyz:TSLA", Timestamp: base.Add(time.Duration(i) * time.Minute), SpreadPct: s})
	}
	r := analytics.OracleHistory("xyz:TSLA", history)
	assert.Equal(t, 4, r.DataPoints)
	assert.InDelta(t, 0.2, r.CurrentSpreadPct, 1e-9)
	assert.InDelta(t, 0.2, r.MinSpreadPct, 1e-9)
	assert.InDelta(t, 0.4, r.MaxSpreadPct, 1e-9)
	assert.InDelta(t, 0.3, r.AvgSpreadPct, 1e-9)
	assert.Equal(t, analytics.TrendImproving, r.Trend)
	assert.Len(t, r.History, 4)
}

func TestOracleAnalysis(t *testing.T) {
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	latest := []models.MarketSnapshot{
		{Coin: "xyz:TSLA", Dex: "xyz", TightnessScore: 100, SpreadPct: 0.001, Timestamp: at},
		{Coin: "xyz:NVDA", Dex: "xyz", TightnessScore: 70, SpreadPct: 0.7, Timestamp: at},
		{Coin: "flx:GOLD", Dex: "flx", TightnessScore: 60, SpreadPct: 0.9, Timestamp: at},
		{Coin: "BTC", TightnessScore: 95, SpreadPct: 0.05, Timestamp: at},
	}

	r := analytics.OracleAnalysis(latest)
	assert.Equal(t, 4, r.NumAssets)
	require.Len(t, r.Categories, 3)
	assert.Equal(t, "flx", r.Categories[0].Dex)
	assert.Equal(t, "main", r.Categories[1].Dex)
	assert.Equal(t, "xyz", r.Categories[2].Dex)
	assert.Equal(t, 2, r.Categories[2].NumAssets)
	assert.InDelta(t, 85, r.Categories[2].AvgTightnessScore, 1e-9)

	require.Len(t, r.TopPerformers, 4)
	assert.Equal(t, "xyz:TSLA", r.TopPerformers[0].Coin)
	assert.Equal(t, "BTC", r.TopPerformers[1].Coin)
	require.Len(t, r.NeedsAttention, 2)
	assert.Equal(t, "flx:GOLD", r.NeedsAttention[0].Coin)
	assert.Equal(t, "xyz:NVDA", r.NeedsAttention[1].Coin)

	empty := analytics.OracleAnalysis(nil)
	assert.Empty(t, empty.Categories)
	assert.NotNil(t, empty.TopPerformers)
	assert.NotNil(t, empty.NeedsAttention)
}

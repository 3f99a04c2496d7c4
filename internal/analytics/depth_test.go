package analytics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/pkg/fixed"
	"github.com/Aidin1998/perpstats/pkg/models"
)

func level(px, sz float64) exchange.BookLevel {
	return exchange.BookLevel{Px: fixed.Of(px), Sz: fixed.Of(sz), N: 1}
}

func testBook() exchange.Book {
	return exchange.Book{
		Coin: "xyz:TSLA",
		Levels: [][]exchange.BookLevel{
			{level(99.5, 10), level(99.2, 20), level(90, 100), level(97, 30)},
			{level(100.5, 5), level(100.8, 5), level(103, 10), level(110, 50)},
		},
	}
}

func TestMarketDepth(t *testing.T) {
	d, ok := analytics.MarketDepth(testBook())
	require.True(t, ok)

	assert.Equal(t, 100.0, d.MidPrice)
	assert.Equal(t, 1.0, d.Spread)
	assert.InDelta(t, 100, d.SpreadBps, 1e-9)
	assert.InDelta(t, 30, d.BidDepth1Pct, 1e-9)
	assert.InDelta(t, 60, d.BidDepth5Pct, 1e-9)
	assert.InDelta(t, 10, d.AskDepth1Pct, 1e-9)
	assert.InDelta(t, 20, d.AskDepth5Pct, 1e-9)
	assert.InDelta(t, 3, d.Imbalance, 1e-9)
	assert.Equal(t, analytics.ImbalanceBid, d.ImbalanceSide)
	assert.Equal(t, 40.0, d.LiquidityScore)
	assert.Equal(t, "Fair", d.LiquidityRating)
}

func TestMarketDepthRejectsOneSidedBook(t *testing.T) {
	_, ok := analytics.MarketDepth(exchange.Book{Levels: [][]exchange.BookLevel{{level(1, 1)}}})
	assert.False(t, ok)
	_, ok = analytics.MarketDepth(exchange.Book{Levels: [][]exchange.BookLevel{{level(0, 1)}, {level(1, 1)}}})
	assert.False(t, ok)
	_, ok = analytics.MarketDepth(exchange.Book{})
	assert.False(t, ok)
}

func TestLiquidityScore(t *testing.T) {
	assert.Equal(t, 100.0, analytics.LiquidityScore(150, 2))
	assert.Equal(t, 70.0, analytics.LiquidityScore(60, 12))
	assert.Equal(t, 20.0, analytics.LiquidityScore(0.5, 60))
	assert.Equal(t, "Excellent", analytics.LiquidityRating(100))
	assert.Equal(t, "Good", analytics.LiquidityRating(70))
	assert.Equal(t, "Poor", analytics.LiquidityRating(20))
}

func TestDepthChart(t *testing.T) {
	chart := analytics.DepthChartFrom(testBook(), 2)

	require.Len(t, chart.Bids, 2)
	assert.Equal(t, analytics.DepthPoint{Price: 99.5, Size: 10, Depth: 10}, chart.Bids[0])
	assert.Equal(t, analytics.DepthPoint{Price: 99.2, Size: 20, Depth: 30}, chart.Bids[1])
	require.Len(t, chart.Asks, 2)
	assert.Equal(t, 100.5, chart.Asks[0].Price)
	assert.Equal(t, 30.0, chart.TotalBidSize)
	assert.Equal(t, 10.0, chart.TotalAskSize)

	all := analytics.DepthChartFrom(testBook(), 0)
	assert.Equal(t, 97.0, all.Bids[2].Price, "bids are ordered by price, not arrival")
	assert.Equal(t, 160.0, all.TotalBidSize)
}

func TestMarketHealth(t *testing.T) {
	assert.Equal(t, 70.0, analytics.HealthScore(100, 50))
	assert.Equal(t, "Excellent", analytics.HealthRating(90))
	assert.Equal(t, "Good", analytics.HealthRating(75))
	assert.Equal(t, "Fair", analytics.HealthRating(60))
	assert.Equal(t, "Poor", analytics.HealthRating(40))
	assert.Equal(t, "Critical", analytics.HealthRating(39.9))

	neutral := analytics.Health("xyz:TSLA", nil, nil)
	assert.Equal(t, 50.0, neutral.HealthScore)
	assert.False(t, neutral.HasOracle)
	assert.False(t, neutral.HasDepth)

	d, _ := analytics.MarketDepth(testBook())
	h := analytics.Health("xyz:TSLA", &models.MarketSnapshot{TightnessScore: 100}, &d)
	assert.InDelta(t, 64, h.HealthScore, 1e-9)
	assert.Equal(t, "Fair", h.HealthRating)
	assert.InDelta(t, 100, h.SpreadBps, 1e-9)
}

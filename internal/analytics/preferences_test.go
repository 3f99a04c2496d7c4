package analytics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/pkg/models"
)

func TestAssetPreferences(t *testing.T) {
	now := time.Now().UTC()
	trades := []models.Trade{
		trade("xyz:TSLA", 100, models.SideBuy, now, "0xa"),
		trade("xyz:NVDA", 50, models.SideBuy, now, "0xa"),
		trade("xyz:NVDA", 10, models.SideSell, now, "0xb"),
		trade("xyz:TSLA", 5, models.SideSell, now, "0xc"),
		trade("xyz:GOLD", 5, models.SideSell, now, "0xd"),
		trade("xyz:AAPL", 5, models.SideSell, now, "0xd"),
	}

	r := analytics.AssetPreferences(trades)
	assert.Equal(t, 4, r.TotalUsers)
	require.Len(t, r.FavoriteAssets, 3)
	assert.Equal(t, analytics.FavoriteAsset{Coin: "xyz:TSLA", Users: 2}, r.FavoriteAssets[0])
	assert.Equal(t, analytics.FavoriteAsset{Coin: "xyz:AAPL", Users: 1}, r.FavoriteAssets[1], "volume tie picks the first coin by name")
	assert.Equal(t, analytics.FavoriteAsset{Coin: "xyz:NVDA", Users: 1}, r.FavoriteAssets[2])
	assert.InDelta(t, 1.5, r.AvgAssetsPerUser, 1e-9)
	assert.Equal(t, 2, r.SingleAssetUsers)
	assert.Equal(t, 2, r.MultiAssetUsers)
	assert.InDelta(t, 50, r.DiversifiedPct, 1e-9)

	empty := analytics.AssetPreferences(nil)
	assert.Zero(t, empty.TotalUsers)
	assert.NotNil(t, empty.FavoriteAssets)
}

func TestLargeTrades(t *testing.T) {
	now := time.Now().UTC()
	trades := []models.Trade{
		trade("xyz:TSLA", 150_000, models.SideBuy, now),
		trade("xyz:TSLA", 5_000, models.SideBuy, now),
		trade("xyz:NVDA", 50_000, models.SideSell, now),
		trade("xyz:NVDA", 200_000, models.SideSell, now),
		trade("xyz:GOLD", 100_000, models.SideBuy, now),
	}

	r := analytics.LargeTrades(trades, 0, 2)
	assert.Equal(t, analytics.DefaultLargeTradeUSD, r.ThresholdUSD)
	assert.Equal(t, 5, r.TotalTrades)
	assert.Equal(t, 3, r.LargeCount)
	assert.InDelta(t, 450_000, r.LargeVolume, 1e-9)
	require.Len(t, r.Trades, 2)
	assert.Equal(t, 200_000.0, r.Trades[0].ValueUSD)
	assert.Equal(t, "SELL", r.Trades[0].Side)
	assert.Equal(t, "BUY", r.Trades[1].Side)
	assert.InDelta(t, 20, r.SmallPct, 1e-9)
	assert.InDelta(t, 20, r.MediumPct, 1e-9)
	assert.InDelta(t, 60, r.LargePct, 1e-9)
	assert.Equal(t, 100_000.0, r.MedianSize)

	r = analytics.LargeTrades(trades, 1_000_000, 10)
	assert.Zero(t, r.LargeCount)
	assert.NotNil(t, r.Trades)
}

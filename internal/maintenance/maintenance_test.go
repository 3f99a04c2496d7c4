package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/internal/database"
	"github.com/Aidin1998/perpstats/internal/store"
	"github.com/Aidin1998/perpstats/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingStats struct {
	calls atomic.Int64
	err   error
}

func (c *countingStats) Refresh(_ context.Context, now time.Time) (*models.SummaryStats, error) {
	n := c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &models.SummaryStats{ComputedAt: now, TotalTrades: n}, nil
}

func TestRefresherHookTriggersAfterThreshold(t *testing.T) {
	stats := &countingStats{}
	r := NewRefresher(stats, config.StatsConfig{RefreshInterval: time.Hour, RefreshEvery: 10}, zap.NewNop())
	r.loop.start()
	defer r.Stop()

	hook := r.Hook()
	hook(context.Background(), make([]models.Trade, 6))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, stats.calls.Load())

	hook(context.Background(), make([]models.Trade, 6))
	require.Eventually(t, func() bool { return stats.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, r.Latest())
	assert.EqualValues(t, 1, r.Latest().TotalTrades)
	assert.EqualValues(t, 0, r.pending.Load())
}

func TestRefresherStartRefreshesImmediately(t *testing.T) {
	stats := &countingStats{}
	r := NewRefresher(stats, config.StatsConfig{RefreshInterval: time.Hour}, zap.NewNop())
	r.Start()
	require.Eventually(t, func() bool { return stats.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	r.Stop()
	r.Stop()
}

func TestRefresherErrorKeepsPrevious(t *testing.T) {
	stats := &countingStats{}
	r := NewRefresher(stats, config.StatsConfig{}, zap.NewNop())
	_, err := r.RefreshNow(context.Background())
	require.NoError(t, err)

	stats.err = errors.New("locked")
	_, err = r.RefreshNow(context.Background())
	assert.Error(t, err)
	require.NotNil(t, r.Latest())
	assert.EqualValues(t, 1, r.Latest().TotalTrades)
}

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	db := database.NewTestDB(t)
	policy := database.RetryPolicy{Attempts: 3}
	trades := store.NewTradeStore(db, policy)
	snaps := store.NewSnapshotStore(db, policy)

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, trades.InsertBatch(ctx, []models.Trade{
		{Coin: "xyz:TSLA", Price: 1, Size: 1, Volume: 1, ReceivedAt: now.AddDate(0, 0, -31)},
		{Coin: "xyz:TSLA", Price: 1, Size: 1, Volume: 1, ReceivedAt: now.AddDate(0, 0, -1)},
	}))
	require.NoError(t, snaps.InsertBatch(ctx, []models.MarketSnapshot{
		{Coin: "xyz:TSLA", Dex: "xyz", Timestamp: now.AddDate(0, 0, -8)},
		{Coin: "xyz:TSLA", Dex: "xyz", Timestamp: now.AddDate(0, 0, -2)},
	}))

	s := NewSweeper(trades, snaps, config.RetentionConfig{TradeDays: 30, SnapshotDays: 7}, zap.NewNop())
	s.now = func() time.Time { return now }
	deletedTrades, deletedSnaps, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deletedTrades)
	assert.EqualValues(t, 1, deletedSnaps)

	n, err := trades.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

type failingDeleter struct{}

func (failingDeleter) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

type zeroDeleter struct{ called bool }

func (z *zeroDeleter) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	z.called = true
	return 0, nil
}

func TestSweepOnceContinuesAfterFailure(t *testing.T) {
	snaps := &zeroDeleter{}
	s := NewSweeper(failingDeleter{}, snaps, config.RetentionConfig{TradeDays: 1, SnapshotDays: 1}, zap.NewNop())
	_, _, err := s.SweepOnce(context.Background())
	assert.ErrorContains(t, err, "locked")
	assert.True(t, snaps.called)
}

func TestSweepOnceZeroRetentionKeepsRows(t *testing.T) {
	trades, snaps := &zeroDeleter{}, &zeroDeleter{}
	s := NewSweeper(trades, snaps, config.RetentionConfig{}, zap.NewNop())
	_, _, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, trades.called)
	assert.False(t, snaps.called)
}

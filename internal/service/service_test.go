package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/perpstats/internal/cache"
	"github.com/Aidin1998/perpstats/internal/database"
	"github.com/Aidin1998/perpstats/internal/ingest"
	"github.com/Aidin1998/perpstats/internal/service"
	"github.com/Aidin1998/perpstats/internal/store"
	"github.com/Aidin1998/perpstats/pkg/errors"
	"github.com/Aidin1998/perpstats/pkg/models"
)

var (
	now    = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	policy = database.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	alice = "0x" + strings.Repeat("a", 40)
	bob   = "0x" + strings.Repeat("b", 40)
	carol = "0x" + strings.Repeat("c", 40)
)

type fixture struct {
	svc       *service.Service
	trades    *store.TradeStore
	snapshots *store.SnapshotStore
	stats     *store.StatsStore
	recent    *ingest.Recent
}

func trade(coin string, volume float64, at time.Time, users ...string) models.Trade {
	t := models.Trade{Coin: coin, Price: volume, Size: 1, Volume: volume, Side: models.SideBuy, ReceivedAt: at}
	if len(users) > 0 {
		t.User1 = &users[0]
	}
	if len(users) > 1 {
		t.User2 = &users[1]
	}
	return t
}

func newFixture(t *testing.T, c cache.Cache, opts ...func(*service.Deps)) *fixture {
	t.Helper()
	db := database.NewTestDB(t)
	f := &fixture{
		trades:    store.NewTradeStore(db, policy),
		snapshots: store.NewSnapshotStore(db, policy),
		stats:     store.NewStatsStore(db, policy),
		recent:    ingest.NewRecent(10),
	}
	deps := service.Deps{
		Trades:    f.trades,
		Snapshots: f.snapshots,
		Stats:     f.stats,
		Live:      f.recent,
		Cache:     c,
		CacheTTL:  time.Minute,
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return now },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := service.New(deps)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.trades.InsertBatch(ctx, []models.Trade{
		trade("xyz:TSLA", 300, now.Add(-2*time.Hour), alice, bob),
		trade("xyz:TSLA", 200, now.Add(-90*time.Minute), alice),
		trade("xyz:NVDA", 500, now.Add(-time.Hour), carol),
		trade("flx:GOLD", 1000, now.Add(-48*time.Hour), bob),
	}))
	require.NoError(t, f.snapshots.InsertBatch(ctx, []models.MarketSnapshot{
		{Timestamp: now.Add(-2 * time.Hour), Dex: "xyz", Coin: "xyz:TSLA", MarkPrice: 100, OraclePrice: 100, OpenInterestUSD: 1000, TightnessScore: 100},
		{Timestamp: now.Add(-time.Hour), Dex: "xyz", Coin: "xyz:TSLA", MarkPrice: 101, OraclePrice: 100, OpenInterestUSD: 3000, SpreadPct: 1, TightnessScore: 80},
		{Timestamp: now.Add(-time.Hour), Dex: "xyz", Coin: "xyz:NVDA", MarkPrice: 50, OraclePrice: 50, OpenInterestUSD: 1000, TightnessScore: 100},
	}))
}

func TestNewRequiresStores(t *testing.T) {
	_, err := service.New(service.Deps{})
	assert.Error(t, err)
}

func TestVolumeShare(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	share, err := f.svc.VolumeShare(context.Background(), "xyz:NVDA", 24)
	require.NoError(t, err)
	assert.InDelta(t, 500, share.Volume, 1e-9)
	assert.InDelta(t, 1000, share.TotalVolume, 1e-9)
	assert.InDelta(t, 50.0, share.Share, 1e-9)

	share, err = f.svc.VolumeShare(context.Background(), "XYZ:tsla", 24)
	require.NoError(t, err)
	assert.Equal(t, "xyz:TSLA", share.Coin)
}

func TestUnknownCoinSuggestion(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	_, err := f.svc.Asset(context.Background(), "xyz:TSL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.Contains(t, err.Error(), `did you mean "xyz:TSLA"`)

	_, err = f.svc.Asset(context.Background(), "completely-unrelated")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestWindowValidation(t *testing.T) {
	f := newFixture(t, nil)
	for _, hours := range []float64{0, -1, 721} {
		_, err := f.svc.Overview(context.Background(), hours)
		require.Error(t, err, hours)
		assert.Equal(t, 400, errors.StatusOf(err))
	}
}

func TestOverview(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	_, err := f.stats.Refresh(context.Background(), now)
	require.NoError(t, err)

	o, err := f.svc.Overview(context.Background(), 24)
	require.NoError(t, err)
	assert.InDelta(t, 1000, o.Platform.TotalVolume, 1e-9)
	assert.Equal(t, 3, o.Platform.TotalTrades)
	assert.Equal(t, 3, o.DailyActiveUsers)
	assert.InDelta(t, 4000, o.TotalOI, 1e-9)
	assert.Equal(t, 2, o.AssetsWithOI)
	assert.InDelta(t, 48, o.Coverage.DataHours, 1e-9)
	assert.True(t, o.Coverage.FullWindow)

	short, err := f.svc.Overview(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, short.Platform.TotalTrades)
	assert.Equal(t, 3, short.DailyActiveUsers)
}

func TestCoverageWithoutStats(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.trades.Insert(context.Background(), ptr(trade("xyz:TSLA", 10, now.Add(-6*time.Hour), alice))))

	o, err := f.svc.Overview(context.Background(), 24)
	require.NoError(t, err)
	assert.False(t, o.Coverage.FullWindow)
	assert.InDelta(t, 6, o.Coverage.DataHours, 1e-9)
	assert.Contains(t, o.Coverage.Disclaimer, "not full 24h")
}

func ptr[T any](v T) *T { return &v }

func TestAssetDetail(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	d, err := f.svc.Asset(context.Background(), "xyz:TSLA")
	require.NoError(t, err)
	assert.Equal(t, "xyz", d.Dex)
	assert.InDelta(t, 500, d.Metrics24h.Volume, 1e-9)
	assert.Equal(t, 2, d.Metrics24h.Trades)
	assert.InDelta(t, 50, d.VolumeShare24h, 1e-9)
	require.NotNil(t, d.Latest)
	assert.InDelta(t, 3000, d.Latest.OpenInterestUSD, 1e-9)
	assert.InDelta(t, 3000, d.Metrics24h.CurrentOI, 1e-9)
	require.NotNil(t, d.Oracle)
	assert.Equal(t, "Fair", d.Oracle.Rating)
	assert.Len(t, d.RecentSnapshots, 2)
}

func TestRankings(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	_, err := f.svc.Rankings(context.Background(), "bogus", 24)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Invalid))

	r, err := f.svc.Rankings(context.Background(), "oi", 24)
	require.NoError(t, err)
	require.Len(t, r.Entries, 2)
	assert.Equal(t, "xyz:TSLA", r.Entries[0].Coin)
	assert.InDelta(t, 75, r.Entries[0].Share, 1e-9)
}

func TestOpenInterestAndOracle(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	ctx := context.Background()

	oi, err := f.svc.OpenInterest(ctx, 24)
	require.NoError(t, err)
	assert.InDelta(t, 4000, oi.TotalOI, 1e-9)
	require.Len(t, oi.Trends, 2)
	assert.Equal(t, "xyz:TSLA", oi.Trends[0].Coin)
	assert.InDelta(t, 200, oi.Trends[0].ChangePct, 1e-9)

	health, err := f.svc.OracleHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, health.NumAssets)
	assert.InDelta(t, 90, health.AvgTightnessScore, 1e-9)

	hist, err := f.svc.OracleHistory(ctx, "xyz:tsla", 24)
	require.NoError(t, err)
	assert.Equal(t, 2, hist.DataPoints)

	_, err = f.svc.OracleTightness("xyz:TSLA", 0, 100)
	assert.True(t, errors.Is(err, errors.Invalid))
	tight, err := f.svc.OracleTightness("xyz:TSLA", 100.05, 100)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, tight.SpreadPct, 1e-9)
	assert.Equal(t, "Excellent", tight.Rating)
}

func TestWalletProfile(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	ctx := context.Background()

	_, err := f.svc.Wallet(ctx, "0x123", 24)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Invalid))

	p, err := f.svc.Wallet(ctx, strings.ToUpper(alice[2:]), 24)
	require.NoError(t, err)
	assert.Equal(t, alice, p.Wallet)
	assert.Equal(t, 2, p.Summary.TradeCount)
	assert.InDelta(t, 500, p.Summary.TotalVolume, 1e-9)
	require.NotNil(t, p.FirstTradeAt)
	assert.True(t, p.FirstTradeAt.Equal(now.Add(-2*time.Hour)))
	assert.Len(t, p.RecentTrades, 2)

	empty, err := f.svc.Wallet(ctx, "0x"+strings.Repeat("d", 40), 24)
	require.NoError(t, err)
	assert.Zero(t, empty.Summary.TradeCount)
	assert.Empty(t, empty.RecentTrades)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)

	lb, err := f.svc.Leaderboard(context.Background(), "xyz", 72, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, lb.TotalTraders)
	require.Len(t, lb.Traders, 2)
	assert.Equal(t, alice, lb.Traders[0].Wallet)

	all, err := f.svc.Leaderboard(context.Background(), "", 72, 0)
	require.NoError(t, err)
	assert.Equal(t, bob, all.Traders[0].Wallet)
}

func TestUserReports(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	ctx := context.Background()

	_, err := f.svc.Retention(ctx, "2025-7")
	assert.True(t, errors.Is(err, errors.Invalid))

	r, err := f.svc.Retention(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "all", r.Week)
	assert.Equal(t, 3, r.TotalUsers)

	cohorts, err := f.svc.Cohorts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cohorts.TotalUsers)

	seg, err := f.svc.Segments(ctx)
	require.NoError(t, err)
	assert.NotZero(t, seg.Whales.Count)

	freq, err := f.svc.Frequency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, freq.TotalUsers)

	life, err := f.svc.Lifecycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, life.New.Count)
}

func TestRecentTrades(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t)
	ctx := context.Background()

	fromStore, err := f.svc.RecentTrades(ctx, "xyz:TSLA", 1)
	require.NoError(t, err)
	require.Len(t, fromStore, 1)
	assert.InDelta(t, 200, fromStore[0].Volume, 1e-9)

	for i := 0; i < 3; i++ {
		f.recent.Add(trade("xyz:NVDA", float64(i+1), now.Add(time.Duration(i)*time.Second)))
	}
	f.recent.Add(trade("xyz:TSLA", 9, now.Add(10*time.Second)))
	live, err := f.svc.RecentTrades(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "xyz:TSLA", live[0].Coin)
	assert.InDelta(t, 3, live[1].Volume, 1e-9)
}

func TestCachedResults(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	f.seed(t)
	ctx := context.Background()

	first, err := f.svc.Distribution(ctx, 24)
	require.NoError(t, err)
	require.NoError(t, f.trades.Insert(ctx, ptr(trade("xyz:NVDA", 10, now.Add(-time.Minute), carol))))

	second, err := f.svc.Distribution(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, first.TotalTrades, second.TotalTrades)

	fresh, err := f.svc.Growth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, fresh.Hours24.Trades)
}

func TestSummary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	empty, err := f.svc.Summary(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty.Stats)
	assert.Zero(t, empty.StoredTrades)

	f.seed(t)
	_, err = f.stats.Refresh(ctx, now)
	require.NoError(t, err)
	s, err := f.svc.Summary(ctx)
	require.NoError(t, err)
	require.NotNil(t, s.Stats)
	assert.EqualValues(t, 4, s.StoredTrades)
	assert.InDelta(t, 48*3600, s.OldestAgeSecs, 1e-6)
}

type brokenTrades struct{ service.TradeReader }

func (brokenTrades) Since(context.Context, time.Time, int) ([]models.Trade, error) {
	return nil, fmt.Errorf("database is locked")
}

func TestStorageFailureIsInternal(t *testing.T) {
	db := database.NewTestDB(t)
	svc, err := service.New(service.Deps{
		Trades:    brokenTrades{},
		Snapshots: store.NewSnapshotStore(db, policy),
		Stats:     store.NewStatsStore(db, policy),
	})
	require.NoError(t, err)

	_, err = svc.Distribution(context.Background(), 24)
	require.Error(t, err)
	assert.Equal(t, 500, errors.StatusOf(err))
	var typed *errors.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, "load trades failed: database is locked", typed.Message)
}

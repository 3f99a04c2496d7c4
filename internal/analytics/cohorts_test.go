package analytics_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/pkg/models"
)

const day = 24 * time.Hour

func TestCohortWeek(t *testing.T) {
	assert.Equal(t, "2025-W01", analytics.CohortWeek(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-W10", analytics.CohortWeek(time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)))
}

func TestCohortRetention(t *testing.T) {
	now := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	first := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	var activity []models.WalletActivity
	for i := 0; i < 10; i++ {
		last := now.Add(-10 * day)
		if i < 4 {
			last = now.Add(-time.Duration(i+1) * time.Hour)
		}
		activity = append(activity, models.WalletActivity{
			Wallet:     fmt.Sprintf("0x%02d", i),
			FirstTrade: first,
			LastTrade:  last,
			Trades:     2,
			Volume:     100,
		})
	}
	r := analytics.Cohorts(activity, now)
	assert.Equal(t, 10, r.TotalUsers)
	require.Len(t, r.Cohorts, 1)
	c := r.Cohorts[0]
	assert.Equal(t, "2025-W10", c.Week)
	assert.Equal(t, 10, c.Size)
	assert.Equal(t, 4, c.ActiveLast7d)
	assert.InDelta(t, 40.0, c.RetentionRate, 1e-9)
	assert.InDelta(t, 100.0, c.AvgVolume, 1e-9)
	assert.InDelta(t, 40.0, r.AvgRetentionRate, 1e-9)

	assert.Equal(t, 0, analytics.Cohorts(nil, now).NumCohorts)
}

func TestRetentionHorizons(t *testing.T) {
	now := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	activity := []models.WalletActivity{
		{Wallet: "a", FirstTrade: now.Add(-40 * day), LastTrade: now.Add(-1 * day)},
		{Wallet: "b", FirstTrade: now.Add(-40 * day), LastTrade: now.Add(-35 * day)},
		{Wallet: "c", FirstTrade: now.Add(-2 * day), LastTrade: now.Add(-2 * day)},
	}
	r := analytics.Retention(activity, "", now)
	assert.Equal(t, "all", r.Week)
	assert.Equal(t, 3, r.TotalUsers)
	assert.InDelta(t, 200.0/3, r.D1, 1e-9)
	assert.InDelta(t, 50.0, r.D7, 1e-9)
	assert.InDelta(t, 50.0, r.D30, 1e-9)

	none := analytics.Retention(activity, "1999-W01", now)
	assert.Equal(t, 0, none.TotalUsers)
	assert.Equal(t, 0.0, none.D30)
}

func TestSegments(t *testing.T) {
	var activity []models.WalletActivity
	for i := 1; i <= 200; i++ {
		activity = append(activity, models.WalletActivity{Wallet: fmt.Sprint(i), Volume: float64(i), Trades: 1})
	}
	r := analytics.Segments(activity)
	assert.Equal(t, 200, r.TotalUsers)
	assert.Equal(t, 2, r.Whales.Count)
	assert.Equal(t, 20, r.PowerUsers.Count)
	assert.Equal(t, 100, r.Regular.Count)
	assert.Equal(t, 100, r.Light.Count)
	assert.InDelta(t, 399.0/20100*100, r.Whales.VolumeShare, 1e-9)
	assert.InDelta(t, 100.0, r.Regular.VolumeShare+r.Light.VolumeShare, 1e-9)

	small := analytics.Segments(activity[:1])
	assert.Equal(t, 1, small.Whales.Count)
	assert.Equal(t, 0, small.Light.Count)
	assert.Equal(t, 0, analytics.Segments(nil).Whales.Count)
}

func TestSegmentsBreakVolumeTiesByWallet(t *testing.T) {
	var activity []models.WalletActivity
	for i := 0; i < 100; i++ {
		activity = append(activity, models.WalletActivity{Wallet: fmt.Sprintf("0x%03d", i), Volume: 10, Trades: int64(i + 1)})
	}
	reversed := make([]models.WalletActivity, len(activity))
	for i, a := range activity {
		reversed[len(activity)-1-i] = a
	}

	a, b := analytics.Segments(activity), analytics.Segments(reversed)
	assert.Equal(t, a, b)
	assert.EqualValues(t, 1, a.Whales.TotalTrades, "lowest address wins the tie")
}

func TestFrequencyAndLifecycle(t *testing.T) {
	now := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	activity := []models.WalletActivity{
		{FirstTrade: now.Add(-60 * day), LastTrade: now.Add(-1 * day), DaysActive: 25},
		{FirstTrade: now.Add(-60 * day), LastTrade: now.Add(-10 * day), DaysActive: 5},
		{FirstTrade: now.Add(-3 * day), LastTrade: now.Add(-3 * day), DaysActive: 1},
		{FirstTrade: now.Add(-90 * day), LastTrade: now.Add(-45 * day), DaysActive: 30},
	}
	f := analytics.FrequencyDistribution(activity, now)
	assert.Equal(t, 1, f.Daily.Count)
	assert.Equal(t, 1, f.Weekly.Count)
	assert.Equal(t, 1, f.Monthly.Count)
	assert.Equal(t, 1, f.Inactive.Count)
	assert.InDelta(t, 25.0, f.Daily.Percentage, 1e-9)

	l := analytics.Lifecycle(activity, now)
	assert.Equal(t, 1, l.New.Count)
	assert.Equal(t, 1, l.Active.Count)
	assert.Equal(t, 1, l.AtRisk.Count)
	assert.Equal(t, 1, l.Churned.Count)
}

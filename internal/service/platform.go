package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/internal/feed"
	"github.com/Aidin1998/perpstats/internal/ingest"
	"github.com/Aidin1998/perpstats/pkg/models"
)

// Coverage tells how much stored history backs a window.
type Coverage struct {
	DataHours  float64 `json:"actual_data_hours"`
	FullWindow bool    `json:"is_full_window"`
	Disclaimer string  `json:"disclaimer"`
}

// Overview is the platform dashboard payload.
type Overview struct {
	Hours             float64            `json:"timeframe_hours"`
	Platform          analytics.Platform `json:"platform"`
	TotalOI           float64            `json:"total_oi"`
	AssetsWithOI      int                `json:"assets_with_oi"`
	AvgTightnessScore float64            `json:"avg_tightness_score"`
	OracleHealth      string             `json:"oracle_health"`
	DailyActiveUsers  int                `json:"daily_active_users"`
	Coverage          Coverage           `json:"coverage"`
	CalculatedAt      time.Time          `json:"calculated_at"`
}

func (s *Service) tradesSince(ctx context.Context, since time.Time) ([]models.Trade, error) {
	trades, err := s.trades.Since(ctx, since, 0)
	if err != nil {
		return nil, storageErr("load trades", err)
	}
	return trades, nil
}

func (s *Service) latestSnapshots(ctx context.Context) ([]models.MarketSnapshot, error) {
	latest, err := s.snapshots.Latest(ctx)
	if err != nil {
		return nil, storageErr("load latest snapshots", err)
	}
	return latest, nil
}

// coverage compares the age of the oldest stored trade with the requested window.
func (s *Service) coverage(ctx context.Context, hours float64, now time.Time, trades []models.Trade) Coverage {
	var oldest *time.Time
	if row, err := s.stats.Latest(ctx); err != nil {
		s.logger.Debug("summary stats unavailable", zap.Error(err))
	} else if row != nil {
		oldest = row.OldestTradeAt
	}
	if oldest == nil && len(trades) > 0 {
		oldest = &trades[0].ReceivedAt
	}
	var c Coverage
	if oldest != nil {
		c.DataHours = now.Sub(*oldest).Hours()
	}
	c.FullWindow = c.DataHours >= hours
	if c.FullWindow {
		c.Disclaimer = fmt.Sprintf("Full %gh data", hours)
	} else {
		c.Disclaimer = fmt.Sprintf("Data from last %.1f hours (not full %gh)", c.DataHours, hours)
	}
	return c
}

// Overview aggregates platform activity over the last hours with OI and oracle health.
func (s *Service) Overview(ctx context.Context, hours float64) (Overview, error) {
	return cached(ctx, s, fmt.Sprintf("overview:%g", hours), func(ctx context.Context) (Overview, error) {
		now, since, err := s.since(hours)
		if err != nil {
			return Overview{}, err
		}
		trades, err := s.tradesSince(ctx, since)
		if err != nil {
			return Overview{}, err
		}
		latest, err := s.latestSnapshots(ctx)
		if err != nil {
			return Overview{}, err
		}
		oi := analytics.OIAnalysis(latest)
		oracle := analytics.OracleHealth(latest)

		dau := make(map[string]struct{})
		dayStart := now.Add(-24 * time.Hour)
		for _, t := range trades {
			if t.ReceivedAt.Before(dayStart) {
				continue
			}
			for _, w := range t.Wallets() {
				dau[w] = struct{}{}
			}
		}
		if hours < 24 {
			// The window is shorter than a day, so active users need their own query.
			day, err := s.tradesSince(ctx, dayStart)
			if err != nil {
				return Overview{}, err
			}
			for _, t := range day {
				for _, w := range t.Wallets() {
					dau[w] = struct{}{}
				}
			}
		}

		return Overview{
			Hours:             hours,
			Platform:          analytics.PlatformMetrics(trades),
			TotalOI:           oi.TotalOI,
			AssetsWithOI:      len(latest),
			AvgTightnessScore: oracle.AvgTightnessScore,
			OracleHealth:      oracle.PlatformHealth,
			DailyActiveUsers:  len(dau),
			Coverage:          s.coverage(ctx, hours, now, trades),
			CalculatedAt:      now,
		}, nil
	})
}

// assets builds the per-coin breakdown for a window with open interest attached.
func (s *Service) assets(ctx context.Context, hours float64) ([]analytics.Asset, error) {
	_, since, err := s.since(hours)
	if err != nil {
		return nil, err
	}
	trades, err := s.tradesSince(ctx, since)
	if err != nil {
		return nil, err
	}
	latest, err := s.latestSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.snapshots.Since(ctx, since)
	if err != nil {
		return nil, storageErr("load snapshots", err)
	}
	return analytics.WithOpenInterest(analytics.AssetBreakdown(trades), latest, history), nil
}

// Fees breaks estimated fees down per coin and projects them onto a year.
func (s *Service) Fees(ctx context.Context, hours float64) (analytics.FeeReport, error) {
	return cached(ctx, s, fmt.Sprintf("fees:%g", hours), func(ctx context.Context) (analytics.FeeReport, error) {
		assets, err := s.assets(ctx, hours)
		if err != nil {
			return analytics.FeeReport{}, err
		}
		return analytics.FeeBreakdown(assets, hours), nil
	})
}

// Activity reports trade velocity per coin.
func (s *Service) Activity(ctx context.Context, hours float64) (analytics.ActivityReport, error) {
	return cached(ctx, s, fmt.Sprintf("activity:%g", hours), func(ctx context.Context) (analytics.ActivityReport, error) {
		assets, err := s.assets(ctx, hours)
		if err != nil {
			return analytics.ActivityReport{}, err
		}
		return analytics.TradingActivity(assets, hours), nil
	})
}

// Distribution describes trade sizes over the window.
func (s *Service) Distribution(ctx context.Context, hours float64) (analytics.Distribution, error) {
	return cached(ctx, s, fmt.Sprintf("distribution:%g", hours), func(ctx context.Context) (analytics.Distribution, error) {
		_, since, err := s.since(hours)
		if err != nil {
			return analytics.Distribution{}, err
		}
		trades, err := s.tradesSince(ctx, since)
		if err != nil {
			return analytics.Distribution{}, err
		}
		return analytics.SizeDistribution(trades), nil
	})
}

// Growth compares the trailing 1h, 24h and 7d windows.
func (s *Service) Growth(ctx context.Context) (analytics.Growth, error) {
	return cached(ctx, s, "growth", func(ctx context.Context) (analytics.Growth, error) {
		now := s.now()
		trades, err := s.tradesSince(ctx, now.Add(-7*24*time.Hour))
		if err != nil {
			return analytics.Growth{}, err
		}
		return analytics.GrowthMetrics(trades, now), nil
	})
}

// Summary is the ingestion health payload.
type Summary struct {
	Stats         *models.SummaryStats `json:"stats"`
	OldestAgeSecs float64              `json:"oldest_trade_age_seconds"`
	NewestAgeSecs float64              `json:"newest_trade_age_seconds"`
	StoredTrades  int64                `json:"stored_trades"`
	Writer        *ingest.Stats        `json:"writer,omitempty"`
	Feed          *feed.Status         `json:"feed,omitempty"`
	CheckedAt     time.Time            `json:"checked_at"`
}

// Summary returns the latest cached statistics with live writer and feed counters. It is never cached.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	now := s.now()
	row, err := s.stats.Latest(ctx)
	if err != nil {
		return Summary{}, storageErr("load summary stats", err)
	}
	count, err := s.trades.Count(ctx)
	if err != nil {
		return Summary{}, storageErr("count trades", err)
	}
	out := Summary{Stats: row, StoredTrades: count, CheckedAt: now}
	if row != nil {
		out.OldestAgeSecs = row.OldestAge(now).Seconds()
		out.NewestAgeSecs = row.NewestAge(now).Seconds()
	}
	if s.writer != nil {
		st := s.writer.Stats()
		out.Writer = &st
	}
	if s.feed != nil {
		st := s.feed.Status()
		out.Feed = &st
	}
	return out, nil
}

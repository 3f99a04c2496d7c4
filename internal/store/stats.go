package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/perpstats/internal/database"
	"github.com/Aidin1998/perpstats/pkg/models"
	"gorm.io/gorm"
)

// StatsStore maintains the trade_stats cache table.
type StatsStore struct {
	db     *gorm.DB
	read   *gorm.DB
	policy database.RetryPolicy
}

func NewStatsStore(db *gorm.DB, policy database.RetryPolicy) *StatsStore {
	return &StatsStore{db: db, read: db, policy: policy}
}

// WithReader sends queries to a separate pool. A nil pool keeps reads on the write pool.
func (s *StatsStore) WithReader(read *gorm.DB) *StatsStore {
	if read != nil {
		s.read = read
	}
	return s
}

// Compute aggregates the trades table without persisting anything.
func (s *StatsStore) Compute(ctx context.Context, now time.Time) (*models.SummaryStats, error) {
	db := s.read.WithContext(ctx)
	stats := &models.SummaryStats{ComputedAt: now.UTC()}

	var totals struct {
		Trades int64
		Volume float64
		Assets int64
	}
	err := db.Model(&models.Trade{}).
		Select("COUNT(*) AS trades, COALESCE(SUM(volume), 0) AS volume, COUNT(DISTINCT coin) AS assets").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("trade totals: %w", err)
	}
	stats.TotalTrades = totals.Trades
	stats.TotalVolume = totals.Volume
	stats.AssetsActive = totals.Assets

	err = db.Raw(`SELECT COUNT(*) FROM (
		SELECT user1 AS wallet FROM trades WHERE user1 IS NOT NULL
		UNION
		SELECT user2 AS wallet FROM trades WHERE user2 IS NOT NULL
	) wallets`).Scan(&stats.UniqueWallets).Error
	if err != nil {
		return nil, fmt.Errorf("unique wallets: %w", err)
	}

	if stats.TotalTrades == 0 {
		return stats, nil
	}
	oldest, err := s.edge(db, "received_at ASC")
	if err != nil {
		return nil, err
	}
	newest, err := s.edge(db, "received_at DESC")
	if err != nil {
		return nil, err
	}
	stats.OldestTradeAt = oldest
	stats.NewestTradeAt = newest
	return stats, nil
}

func (s *StatsStore) edge(db *gorm.DB, order string) (*time.Time, error) {
	var ts []time.Time
	if err := db.Model(&models.Trade{}).Order(order).Limit(1).Pluck("received_at", &ts).Error; err != nil {
		return nil, fmt.Errorf("trade age: %w", err)
	}
	if len(ts) == 0 {
		return nil, nil
	}
	t := ts[0].UTC()
	return &t, nil
}

// Refresh recomputes the summary and appends it as a new row.
func (s *StatsStore) Refresh(ctx context.Context, now time.Time) (*models.SummaryStats, error) {
	stats, err := s.Compute(ctx, now)
	if err != nil {
		return nil, err
	}
	_, err = s.policy.Do(ctx, "stats_refresh", func(ctx context.Context) error {
		stats.ID = 0
		return s.db.WithContext(ctx).Create(stats).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store summary stats: %w", err)
	}
	return stats, nil
}

// Latest returns the most recently appended summary, or nil when none was computed yet.
func (s *StatsStore) Latest(ctx context.Context) (*models.SummaryStats, error) {
	var stats models.SummaryStats
	err := s.read.WithContext(ctx).Order("id DESC").Take(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest summary stats: %w", err)
	}
	return &stats, nil
}

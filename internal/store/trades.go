// Package store holds the gorm repositories for trades, market snapshots and summary statistics.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Aidin1998/perpstats/internal/database"
	"github.com/Aidin1998/perpstats/pkg/models"
	"gorm.io/gorm"
)

// insertChunk bounds the rows per INSERT statement so sqlite stays under its variable limit.
const insertChunk = 200

// TradeStore reads and writes the trades table.
type TradeStore struct {
	db     *gorm.DB
	read   *gorm.DB
	policy database.RetryPolicy
}

func NewTradeStore(db *gorm.DB, policy database.RetryPolicy) *TradeStore {
	return &TradeStore{db: db, read: db, policy: policy}
}

// WithReader sends queries to a separate pool. A nil pool keeps reads on the write pool.
func (s *TradeStore) WithReader(read *gorm.DB) *TradeStore {
	if read != nil {
		s.read = read
	}
	return s
}

// InsertBatch writes all trades in one transaction. Busy errors are retried by the policy;
// any other failure rolls the whole batch back.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	_, err := s.policy.Do(ctx, "trades_batch", func(ctx context.Context) error {
		for i := range trades {
			trades[i].ID = 0
		}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.CreateInBatches(trades, insertChunk).Error
		})
	})
	if err != nil {
		return fmt.Errorf("insert %d trades: %w", len(trades), err)
	}
	return nil
}

// Insert writes a single trade under the same retry policy as batches.
func (s *TradeStore) Insert(ctx context.Context, trade *models.Trade) error {
	_, err := s.policy.Do(ctx, "trades_single", func(ctx context.Context) error {
		trade.ID = 0
		return s.db.WithContext(ctx).Create(trade).Error
	})
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// Since returns trades received at or after since, oldest first. limit <= 0 means no limit.
func (s *TradeStore) Since(ctx context.Context, since time.Time, limit int) ([]models.Trade, error) {
	q := s.read.WithContext(ctx).Where("received_at >= ?", since.UTC()).Order("received_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var trades []models.Trade
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("trades since %s: %w", since.Format(time.RFC3339), err)
	}
	return trades, nil
}

// ByCoin returns a coin's trades received at or after since, newest first.
func (s *TradeStore) ByCoin(ctx context.Context, coin string, since time.Time, limit int) ([]models.Trade, error) {
	q := s.read.WithContext(ctx).
		Where("coin = ? AND received_at >= ?", coin, since.UTC()).
		Order("received_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var trades []models.Trade
	if err := q.Find(&trades).Error; err != nil {
		return nil, fmt.Errorf("trades for %s: %w", coin, err)
	}
	return trades, nil
}

// ByWallet returns trades where the wallet is either counterparty, newest first.
func (s *TradeStore) ByWallet(ctx context.Context, wallet string, since time.Time) ([]models.Trade, error) {
	wallet = models.NormalizeWallet(wallet)
	var trades []models.Trade
	err := s.read.WithContext(ctx).
		Where("(user1 = ? OR user2 = ?) AND received_at >= ?", wallet, wallet, since.UTC()).
		Order("received_at DESC, id DESC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("trades for wallet %s: %w", wallet, err)
	}
	return trades, nil
}

// Coins returns the distinct coins traded since the given time.
func (s *TradeStore) Coins(ctx context.Context, since time.Time) ([]string, error) {
	var coins []string
	err := s.read.WithContext(ctx).Model(&models.Trade{}).
		Where("received_at >= ?", since.UTC()).
		Distinct().Order("coin").Pluck("coin", &coins).Error
	if err != nil {
		return nil, fmt.Errorf("distinct coins: %w", err)
	}
	return coins, nil
}

// Count returns the number of stored trades.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.read.WithContext(ctx).Model(&models.Trade{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// WalletActivity aggregates every counterparty's first and last trade, trade count, volume
// and number of distinct UTC days traded.
func (s *TradeStore) WalletActivity(ctx context.Context) ([]models.WalletActivity, error) {
	rows, err := s.read.WithContext(ctx).Model(&models.Trade{}).
		Select("user1, user2, received_at, volume").
		Where("user1 IS NOT NULL OR user2 IS NOT NULL").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("wallet activity: %w", err)
	}
	defer rows.Close()

	byWallet := make(map[string]*models.WalletActivity)
	days := make(map[string]map[string]struct{})
	add := func(wallet *string, at time.Time, volume float64) {
		if wallet == nil || *wallet == "" {
			return
		}
		a, ok := byWallet[*wallet]
		if !ok {
			a = &models.WalletActivity{Wallet: *wallet, FirstTrade: at, LastTrade: at}
			byWallet[*wallet] = a
			days[*wallet] = make(map[string]struct{})
		}
		days[*wallet][at.UTC().Format("2006-01-02")] = struct{}{}
		if at.Before(a.FirstTrade) {
			a.FirstTrade = at
		}
		if at.After(a.LastTrade) {
			a.LastTrade = at
		}
		a.Trades++
		a.Volume += volume
	}
	for rows.Next() {
		var (
			user1, user2 *string
			at           time.Time
			volume       float64
		)
		if err := rows.Scan(&user1, &user2, &at, &volume); err != nil {
			return nil, fmt.Errorf("scan wallet activity: %w", err)
		}
		add(user1, at, volume)
		add(user2, at, volume)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet activity rows: %w", err)
	}

	out := make([]models.WalletActivity, 0, len(byWallet))
	for w, a := range byWallet {
		a.DaysActive = len(days[w])
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}

// DeleteOlderThan removes trades received before cutoff.
func (s *TradeStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	_, err := s.policy.Do(ctx, "trades_cleanup", func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Where("received_at < ?", cutoff.UTC()).Delete(&models.Trade{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return deleted, nil
}

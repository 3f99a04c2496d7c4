package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Aidin1998/perpstats/internal/database"
	"github.com/Aidin1998/perpstats/pkg/models"
	"gorm.io/gorm"
)

// SnapshotStore reads and writes the market_snapshots table.
type SnapshotStore struct {
	db     *gorm.DB
	read   *gorm.DB
	policy database.RetryPolicy
}

func NewSnapshotStore(db *gorm.DB, policy database.RetryPolicy) *SnapshotStore {
	return &SnapshotStore{db: db, read: db, policy: policy}
}

// WithReader sends queries to a separate pool. A nil pool keeps reads on the write pool.
func (s *SnapshotStore) WithReader(read *gorm.DB) *SnapshotStore {
	if read != nil {
		s.read = read
	}
	return s
}

// Insert writes one snapshot.
func (s *SnapshotStore) Insert(ctx context.Context, snap *models.MarketSnapshot) error {
	_, err := s.policy.Do(ctx, "snapshots_single", func(ctx context.Context) error {
		snap.ID = 0
		return s.db.WithContext(ctx).Create(snap).Error
	})
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.Coin, err)
	}
	return nil
}

// InsertBatch writes one poll's snapshots in a single transaction.
func (s *SnapshotStore) InsertBatch(ctx context.Context, snaps []models.MarketSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	_, err := s.policy.Do(ctx, "snapshots_batch", func(ctx context.Context) error {
		for i := range snaps {
			snaps[i].ID = 0
		}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.CreateInBatches(snaps, insertChunk).Error
		})
	})
	if err != nil {
		return fmt.Errorf("insert %d snapshots: %w", len(snaps), err)
	}
	return nil
}

// History returns a coin's snapshots since the given time, oldest first.
func (s *SnapshotStore) History(ctx context.Context, coin string, since time.Time) ([]models.MarketSnapshot, error) {
	var snaps []models.MarketSnapshot
	err := s.read.WithContext(ctx).
		Where("coin = ? AND timestamp >= ?", coin, since.UTC()).
		Order("timestamp ASC, id ASC").
		Find(&snaps).Error
	if err != nil {
		return nil, fmt.Errorf("snapshot history for %s: %w", coin, err)
	}
	return snaps, nil
}

// Since returns every snapshot taken since the given time, oldest first.
func (s *SnapshotStore) Since(ctx context.Context, since time.Time) ([]models.MarketSnapshot, error) {
	var snaps []models.MarketSnapshot
	err := s.read.WithContext(ctx).
		Where("timestamp >= ?", since.UTC()).
		Order("timestamp ASC, id ASC").
		Find(&snaps).Error
	if err != nil {
		return nil, fmt.Errorf("snapshots since %s: %w", since.Format(time.RFC3339), err)
	}
	return snaps, nil
}

// Latest returns the most recent snapshot of every coin, ordered by coin.
func (s *SnapshotStore) Latest(ctx context.Context) ([]models.MarketSnapshot, error) {
	latest := s.read.Model(&models.MarketSnapshot{}).Select("MAX(id)").Group("coin")
	var snaps []models.MarketSnapshot
	if err := s.read.WithContext(ctx).Where("id IN (?)", latest).Order("coin").Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	return snaps, nil
}

// Coins returns every coin that has at least one snapshot.
func (s *SnapshotStore) Coins(ctx context.Context) ([]string, error) {
	var coins []string
	if err := s.read.WithContext(ctx).Model(&models.MarketSnapshot{}).Distinct().Order("coin").Pluck("coin", &coins).Error; err != nil {
		return nil, fmt.Errorf("snapshot coins: %w", err)
	}
	return coins, nil
}

// DeleteOlderThan removes snapshots taken before cutoff.
func (s *SnapshotStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	_, err := s.policy.Do(ctx, "snapshots_cleanup", func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff.UTC()).Delete(&models.MarketSnapshot{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete snapshots before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return deleted, nil
}

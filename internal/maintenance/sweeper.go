package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/pkg/metrics"
	"go.uber.org/zap"
)

// Deleter removes rows older than a cutoff.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes trades and snapshots past their retention windows.
type Sweeper struct {
	trades    Deleter
	snapshots Deleter
	cfg       config.RetentionConfig
	logger    *zap.Logger
	loop      *loop
	now       func() time.Time
}

func NewSweeper(trades, snapshots Deleter, cfg config.RetentionConfig, logger *zap.Logger) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 24 * time.Hour
	}
	s := &Sweeper{trades: trades, snapshots: snapshots, cfg: cfg, logger: logger.Named("retention"), now: time.Now}
	s.loop = newLoop("retention_sweep", cfg.SweepInterval, s.logger, func(ctx context.Context) {
		_, _, _ = s.SweepOnce(ctx)
	})
	return s
}

// SweepOnce deletes expired rows. A retention of zero days keeps rows forever.
func (s *Sweeper) SweepOnce(ctx context.Context) (trades, snapshots int64, err error) {
	now := s.now().UTC()
	var errs []error
	if s.cfg.TradeDays > 0 {
		trades, err = s.trades.DeleteOlderThan(ctx, now.AddDate(0, 0, -s.cfg.TradeDays))
		if err != nil {
			errs = append(errs, err)
		}
		metrics.RowsSwept.WithLabelValues("trades").Add(float64(trades))
	}
	if s.cfg.SnapshotDays > 0 {
		snapshots, err = s.snapshots.DeleteOlderThan(ctx, now.AddDate(0, 0, -s.cfg.SnapshotDays))
		if err != nil {
			errs = append(errs, err)
		}
		metrics.RowsSwept.WithLabelValues("market_snapshots").Add(float64(snapshots))
	}
	err = errors.Join(errs...)
	if err != nil {
		s.logger.Warn("retention sweep failed", zap.Error(err))
	} else if trades+snapshots > 0 {
		s.logger.Info("retention sweep", zap.Int64("trades", trades), zap.Int64("snapshots", snapshots))
	}
	return trades, snapshots, err
}

func (s *Sweeper) Start() {
	s.loop.start()
	s.loop.trigger()
}

func (s *Sweeper) Stop() { s.loop.stop() }

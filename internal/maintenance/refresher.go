package maintenance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/internal/ingest"
	"github.com/Aidin1998/perpstats/pkg/metrics"
	"github.com/Aidin1998/perpstats/pkg/models"
	"go.uber.org/zap"
)

// StatsRefresher recomputes and appends a summary statistics row.
type StatsRefresher interface {
	Refresh(ctx context.Context, now time.Time) (*models.SummaryStats, error)
}

// Refresher keeps the summary statistics fresh. It refreshes on a fixed interval and
// additionally once RefreshEvery trades have been written since the previous refresh.
type Refresher struct {
	stats  StatsRefresher
	every  int64
	logger *zap.Logger
	loop   *loop

	pending atomic.Int64
	mu      sync.RWMutex
	latest  *models.SummaryStats
}

func NewRefresher(stats StatsRefresher, cfg config.StatsConfig, logger *zap.Logger) *Refresher {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	r := &Refresher{stats: stats, every: int64(cfg.RefreshEvery), logger: logger.Named("stats")}
	r.loop = newLoop("stats_refresh", cfg.RefreshInterval, r.logger, func(ctx context.Context) {
		_, _ = r.RefreshNow(ctx)
	})
	return r
}

// Hook counts written trades and schedules a refresh when the threshold is crossed.
func (r *Refresher) Hook() ingest.FlushHook {
	return func(_ context.Context, batch []models.Trade) {
		if r.every <= 0 {
			return
		}
		if r.pending.Add(int64(len(batch))) >= r.every {
			r.loop.trigger()
		}
	}
}

// RefreshNow recomputes the statistics synchronously.
func (r *Refresher) RefreshNow(ctx context.Context) (*models.SummaryStats, error) {
	r.pending.Store(0)
	stats, err := r.stats.Refresh(ctx, time.Now())
	if err != nil {
		metrics.StatsRefreshes.WithLabelValues("error").Inc()
		r.logger.Warn("stats refresh failed", zap.Error(err))
		return nil, err
	}
	metrics.StatsRefreshes.WithLabelValues("ok").Inc()
	r.mu.Lock()
	r.latest = stats
	r.mu.Unlock()
	r.logger.Debug("stats refreshed",
		zap.Int64("total_trades", stats.TotalTrades),
		zap.Int64("unique_wallets", stats.UniqueWallets))
	return stats, nil
}

// Latest returns the most recent successful refresh, nil before the first one.
func (r *Refresher) Latest() *models.SummaryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Start refreshes once in the background and then keeps refreshing until Stop.
func (r *Refresher) Start() {
	r.loop.start()
	r.loop.trigger()
}

func (r *Refresher) Stop() { r.loop.stop() }

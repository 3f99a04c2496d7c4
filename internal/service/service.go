// Package service answers dashboard queries by loading rows from the stores and
// running them through the analytics package.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/Aidin1998/perpstats/internal/cache"
	"github.com/Aidin1998/perpstats/internal/feed"
	"github.com/Aidin1998/perpstats/internal/ingest"
	"github.com/Aidin1998/perpstats/pkg/errors"
	"github.com/Aidin1998/perpstats/pkg/models"
)

// Window limits.
const (
	DefaultHours = 24.0
	MaxHours     = 720.0
	DefaultLimit = 50
	MaxLimit     = 500
)

// TradeReader is the read side of the trade store.
type TradeReader interface {
	Since(ctx context.Context, since time.Time, limit int) ([]models.Trade, error)
	ByCoin(ctx context.Context, coin string, since time.Time, limit int) ([]models.Trade, error)
	ByWallet(ctx context.Context, wallet string, since time.Time) ([]models.Trade, error)
	Coins(ctx context.Context, since time.Time) ([]string, error)
	Count(ctx context.Context) (int64, error)
	WalletActivity(ctx context.Context) ([]models.WalletActivity, error)
}

// SnapshotReader is the read side of the snapshot store.
type SnapshotReader interface {
	History(ctx context.Context, coin string, since time.Time) ([]models.MarketSnapshot, error)
	Since(ctx context.Context, since time.Time) ([]models.MarketSnapshot, error)
	Latest(ctx context.Context) ([]models.MarketSnapshot, error)
	Coins(ctx context.Context) ([]string, error)
}

// StatsReader returns the most recent summary row, nil when none was computed yet.
type StatsReader interface {
	Latest(ctx context.Context) (*models.SummaryStats, error)
}

// LiveTrades is the in-memory buffer of the latest trades per coin.
type LiveTrades interface {
	Get(coin string, limit int) []models.Trade
	Coins() []string
}

// FeedStatus reports the live collector counters.
type FeedStatus interface {
	Status() feed.Status
}

// WriterStats reports the batch writer counters.
type WriterStats interface {
	Stats() ingest.Stats
}

// Deps holds everything the service reads from. Live, Feed, Writer, Books and the two
// writers are optional; routes needing a missing one answer 503.
type Deps struct {
	Trades         TradeReader
	Snapshots      SnapshotReader
	Stats          StatsReader
	Live           LiveTrades
	Feed           FeedStatus
	Writer         WriterStats
	Books          BookSource
	TradeWriter    TradeWriter
	SnapshotWriter SnapshotWriter
	Cache          cache.Cache
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
}

// Service is the query layer behind the HTTP API.
type Service struct {
	trades    TradeReader
	snapshots SnapshotReader
	stats     StatsReader
	live      LiveTrades
	feed      FeedStatus
	writer    WriterStats
	books     BookSource
	cache     cache.Cache
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time

	tradeWriter TradeWriter
	snapWriter  SnapshotWriter
	stampMu     sync.Mutex
	lastStamp   time.Time

	depthMu   sync.Mutex
	lastDepth map[string]DepthReport
}

// New builds a Service. Trades, Snapshots and Stats are required.
func New(d Deps) (*Service, error) {
	if d.Trades == nil || d.Snapshots == nil || d.Stats == nil {
		return nil, fmt.Errorf("service: trades, snapshots and stats readers are required")
	}
	s := &Service{
		trades:    d.Trades,
		snapshots: d.Snapshots,
		stats:     d.Stats,
		live:      d.Live,
		feed:      d.Feed,
		writer:    d.Writer,
		books:     d.Books,
		cache:     d.Cache,
		ttl:       d.CacheTTL,
		logger:    d.Logger,
		now:       d.Now,

		tradeWriter: d.TradeWriter,
		snapWriter:  d.SnapshotWriter,
		lastDepth:   make(map[string]DepthReport),
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("service")
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// since validates a window in hours and returns its start relative to now.
func (s *Service) since(hours float64) (time.Time, time.Time, error) {
	if hours <= 0 || hours > MaxHours {
		return time.Time{}, time.Time{}, errors.Invalid.
			Explain("hours must be in (0, %g]", MaxHours).
			WithField("range", "hours", fmt.Sprintf("got %g", hours))
	}
	now := s.now()
	return now, now.Add(-time.Duration(hours * float64(time.Hour))), nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func cached[T any](ctx context.Context, s *Service, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	return cache.Remember(ctx, s.cache, s.logger, key, s.ttl, fn)
}

// storageErr reports a failed read as internal, keeping a one-line cause for the caller.
func storageErr(op string, err error) error {
	return errors.Internal.Explain("%s failed: %s", op, errors.Brief(err)).Wrap(err)
}

// knownCoins lists every coin seen in trades over the retention window or in snapshots.
func (s *Service) knownCoins(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	traded, err := s.trades.Coins(ctx, time.Time{})
	if err != nil {
		return nil, storageErr("list traded coins", err)
	}
	snapped, err := s.snapshots.Coins(ctx)
	if err != nil {
		return nil, storageErr("list snapshot coins", err)
	}
	for _, c := range append(traded, snapped...) {
		seen[c] = struct{}{}
	}
	if s.live != nil {
		for _, c := range s.live.Coins() {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// resolveCoin maps a requested coin onto a known one, ignoring case. Unknown coins yield
// a NotFound error naming the closest known coin.
func (s *Service) resolveCoin(ctx context.Context, coin string) (string, error) {
	coin = strings.TrimSpace(coin)
	if coin == "" {
		return "", errors.Invalid.Explain("coin is required")
	}
	known, err := s.knownCoins(ctx)
	if err != nil {
		return "", err
	}
	for _, k := range known {
		if k == coin {
			return k, nil
		}
	}
	for _, k := range known {
		if strings.EqualFold(k, coin) {
			return k, nil
		}
	}
	if suggestion := closest(coin, known); suggestion != "" {
		return "", errors.NotFound.Explain("unknown coin %q, did you mean %q?", coin, suggestion)
	}
	return "", errors.NotFound.Explain("unknown coin %q", coin)
}

// closest returns the candidate nearest to name, or "" when nothing is reasonably close.
func closest(name string, candidates []string) string {
	best, bestDist := "", -1
	lower := strings.ToLower(name)
	for _, c := range candidates {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 || bestDist > len(name)/2+1 {
		return ""
	}
	return best
}

package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/pkg/errors"
	"github.com/Aidin1998/perpstats/pkg/models"
)

const profileTrades = 20

var weekPattern = regexp.MustCompile(`^\d{4}-W\d{2}$`)

// Leaderboard ranks wallets trading on dex by volume over the window. An empty dex covers every coin.
func (s *Service) Leaderboard(ctx context.Context, dex string, hours float64, limit int) (analytics.LeaderboardReport, error) {
	limit = clampLimit(limit)
	return cached(ctx, s, fmt.Sprintf("leaderboard:%s:%g:%d", dex, hours, limit), func(ctx context.Context) (analytics.LeaderboardReport, error) {
		_, since, err := s.since(hours)
		if err != nil {
			return analytics.LeaderboardReport{}, err
		}
		trades, err := s.tradesSince(ctx, since)
		if err != nil {
			return analytics.LeaderboardReport{}, err
		}
		return analytics.Leaderboard(trades, dex, limit), nil
	})
}

// Wallets describes wallet behaviour over the window with the limit most active wallets.
func (s *Service) Wallets(ctx context.Context, hours float64, limit int) (analytics.WalletReport, error) {
	limit = clampLimit(limit)
	return cached(ctx, s, fmt.Sprintf("wallets:%g:%d", hours, limit), func(ctx context.Context) (analytics.WalletReport, error) {
		_, since, err := s.since(hours)
		if err != nil {
			return analytics.WalletReport{}, err
		}
		trades, err := s.tradesSince(ctx, since)
		if err != nil {
			return analytics.WalletReport{}, err
		}
		return analytics.WalletAnalytics(trades, limit), nil
	})
}

// WalletProfile is one wallet's activity over a window.
type WalletProfile struct {
	Wallet       string            `json:"wallet"`
	Hours        float64           `json:"timeframe_hours"`
	Summary      analytics.Trader  `json:"summary"`
	FirstTradeAt *time.Time        `json:"first_trade_at,omitempty"`
	LastTradeAt  *time.Time        `json:"last_trade_at,omitempty"`
	Assets       []analytics.Asset `json:"assets"`
	RecentTrades []models.Trade    `json:"recent_trades"`
}

// NormalizeAddress validates a hex wallet address and returns it lower-cased.
func NormalizeAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", errors.Invalid.
			Explain("invalid wallet address %q", address).
			WithField("eth_addr", "address", "expected 0x followed by 40 hex characters")
	}
	return models.NormalizeWallet(common.HexToAddress(address).Hex()), nil
}

// Wallet returns the profile of one address over the window.
func (s *Service) Wallet(ctx context.Context, address string, hours float64) (WalletProfile, error) {
	wallet, err := NormalizeAddress(address)
	if err != nil {
		return WalletProfile{}, err
	}
	_, since, err := s.since(hours)
	if err != nil {
		return WalletProfile{}, err
	}
	trades, err := s.trades.ByWallet(ctx, wallet, since)
	if err != nil {
		return WalletProfile{}, storageErr("load wallet trades", err)
	}
	p := WalletProfile{
		Wallet:       wallet,
		Hours:        hours,
		Summary:      analytics.Trader{Wallet: wallet, AssetsTraded: []string{}},
		Assets:       analytics.AssetBreakdown(trades),
		RecentTrades: []models.Trade{},
	}
	for _, t := range analytics.Leaderboard(trades, "", 0).Traders {
		if t.Wallet == wallet {
			p.Summary = t
			p.Summary.Rank, p.Summary.MarketSharePct = 0, 0
			break
		}
	}
	if n := len(trades); n > 0 {
		// ByWallet returns newest first.
		first, last := trades[n-1].ReceivedAt, trades[0].ReceivedAt
		p.FirstTradeAt, p.LastTradeAt = &first, &last
		p.RecentTrades = trades[:min(n, profileTrades)]
	}
	return p, nil
}

func (s *Service) activity(ctx context.Context) ([]models.WalletActivity, error) {
	activity, err := s.trades.WalletActivity(ctx)
	if err != nil {
		return nil, storageErr("load wallet activity", err)
	}
	return activity, nil
}

// Cohorts groups wallets by the ISO week of their first trade.
func (s *Service) Cohorts(ctx context.Context) (analytics.CohortReport, error) {
	return cached(ctx, s, "cohorts", func(ctx context.Context) (analytics.CohortReport, error) {
		activity, err := s.activity(ctx)
		if err != nil {
			return analytics.CohortReport{}, err
		}
		return analytics.Cohorts(activity, s.now()), nil
	})
}

// Retention computes D1/D7/D30 retention for one cohort week, or every wallet when week is empty.
func (s *Service) Retention(ctx context.Context, week string) (analytics.RetentionReport, error) {
	if week != "" && !weekPattern.MatchString(week) {
		return analytics.RetentionReport{}, errors.Invalid.
			Explain("cohort_week must look like 2025-W07").
			WithField("cohort_week", "cohort_week", week)
	}
	return cached(ctx, s, "retention:"+week, func(ctx context.Context) (analytics.RetentionReport, error) {
		activity, err := s.activity(ctx)
		if err != nil {
			return analytics.RetentionReport{}, err
		}
		return analytics.Retention(activity, week, s.now()), nil
	})
}

// Segments splits wallets into volume tiers.
func (s *Service) Segments(ctx context.Context) (analytics.SegmentReport, error) {
	return cached(ctx, s, "segments", func(ctx context.Context) (analytics.SegmentReport, error) {
		activity, err := s.activity(ctx)
		if err != nil {
			return analytics.SegmentReport{}, err
		}
		return analytics.Segments(activity), nil
	})
}

// Frequency buckets wallets by how often they trade.
func (s *Service) Frequency(ctx context.Context) (analytics.FrequencyReport, error) {
	return cached(ctx, s, "frequency", func(ctx context.Context) (analytics.FrequencyReport, error) {
		activity, err := s.activity(ctx)
		if err != nil {
			return analytics.FrequencyReport{}, err
		}
		return analytics.FrequencyDistribution(activity, s.now()), nil
	})
}

// Lifecycle places wallets in new, active, at-risk and churned stages.
func (s *Service) Lifecycle(ctx context.Context) (analytics.LifecycleReport, error) {
	return cached(ctx, s, "lifecycle", func(ctx context.Context) (analytics.LifecycleReport, error) {
		activity, err := s.activity(ctx)
		if err != nil {
			return analytics.LifecycleReport{}, err
		}
		return analytics.Lifecycle(activity, s.now()), nil
	})
}

// RecentTrades returns the newest buffered trades of coin, or of every coin when coin is empty.
// It reads the live buffer and falls back to the trade store when the buffer is empty.
func (s *Service) RecentTrades(ctx context.Context, coin string, limit int) ([]models.Trade, error) {
	limit = clampLimit(limit)
	if coin != "" {
		resolved, err := s.resolveCoin(ctx, coin)
		if err != nil {
			return nil, err
		}
		coin = resolved
	}
	var out []models.Trade
	if s.live != nil {
		if coin != "" {
			out = s.live.Get(coin, limit)
		} else {
			for _, c := range s.live.Coins() {
				out = append(out, s.live.Get(c, limit)...)
			}
			sort.SliceStable(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
			if len(out) > limit {
				out = out[:limit]
			}
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	var err error
	if coin != "" {
		out, err = s.trades.ByCoin(ctx, coin, time.Time{}, limit)
	} else {
		out, err = s.recentFromStore(ctx, limit)
	}
	if err != nil {
		return nil, storageErr("load recent trades", err)
	}
	if out == nil {
		out = []models.Trade{}
	}
	return out, nil
}

func (s *Service) recentFromStore(ctx context.Context, limit int) ([]models.Trade, error) {
	trades, err := s.trades.Since(ctx, s.now().Add(-time.Hour), 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.Trade, 0, min(limit, len(trades)))
	for i := len(trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, trades[i])
	}
	return out, nil
}

// Preferences reports each wallet's favorite coin and how diversified wallets are.
func (s *Service) Preferences(ctx context.Context, hours float64) (analytics.PreferenceReport, error) {
	return cached(ctx, s, fmt.Sprintf("preferences:%g", hours), func(ctx context.Context) (analytics.PreferenceReport, error) {
		_, since, err := s.since(hours)
		if err != nil {
			return analytics.PreferenceReport{}, err
		}
		trades, err := s.tradesSince(ctx, since)
		if err != nil {
			return analytics.PreferenceReport{}, err
		}
		return analytics.AssetPreferences(trades), nil
	})
}

// LargeTrades lists trades of at least threshold USD over the window, optionally for one
// coin. A threshold of 0 uses the default.
func (s *Service) LargeTrades(ctx context.Context, coin string, hours, threshold float64, limit int) (analytics.LargeTradeReport, error) {
	if threshold < 0 {
		return analytics.LargeTradeReport{}, errors.Invalid.Explain("threshold must not be negative")
	}
	if coin != "" {
		resolved, err := s.resolveCoin(ctx, coin)
		if err != nil {
			return analytics.LargeTradeReport{}, err
		}
		coin = resolved
	}
	limit = clampLimit(limit)
	key := fmt.Sprintf("large:%s:%g:%g:%d", coin, hours, threshold, limit)
	return cached(ctx, s, key, func(ctx context.Context) (analytics.LargeTradeReport, error) {
		_, since, err := s.since(hours)
		if err != nil {
			return analytics.LargeTradeReport{}, err
		}
		var trades []models.Trade
		if coin == "" {
			trades, err = s.tradesSince(ctx, since)
		} else if trades, err = s.trades.ByCoin(ctx, coin, since, 0); err != nil {
			err = storageErr("load coin trades", err)
		}
		if err != nil {
			return analytics.LargeTradeReport{}, err
		}
		return analytics.LargeTrades(trades, threshold, limit), nil
	})
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/pkg/errors"
	"github.com/Aidin1998/perpstats/pkg/models"
)

const (
	recentSnapshots = 24
	oiTrendCoins    = 5
)

// AssetList is the per-coin breakdown for a window.
type AssetList struct {
	Hours       float64           `json:"timeframe_hours"`
	TotalVolume float64           `json:"total_volume"`
	Assets      []analytics.Asset `json:"assets"`
}

// Assets returns every coin's activity over the window, highest volume first.
func (s *Service) Assets(ctx context.Context, hours float64) (AssetList, error) {
	return cached(ctx, s, fmt.Sprintf("assets:%g", hours), func(ctx context.Context) (AssetList, error) {
		assets, err := s.assets(ctx, hours)
		if err != nil {
			return AssetList{}, err
		}
		out := AssetList{Hours: hours, Assets: assets}
		for _, a := range assets {
			out.TotalVolume += a.Volume
		}
		return out, nil
	})
}

// AssetDetail is the drill-down of one coin.
type AssetDetail struct {
	Coin            string                  `json:"coin"`
	Dex             string                  `json:"dex"`
	Metrics24h      analytics.Asset         `json:"metrics_24h"`
	Metrics7d       analytics.Asset         `json:"metrics_7d"`
	VolumeShare24h  float64                 `json:"volume_share_24h"`
	Latest          *models.MarketSnapshot  `json:"latest_snapshot,omitempty"`
	Oracle          *analytics.OracleAsset  `json:"oracle,omitempty"`
	VolumeTrend     string                  `json:"volume_trend"`
	OITrend         string                  `json:"oi_trend"`
	RecentSnapshots []models.MarketSnapshot `json:"recent_snapshots"`
}

func coinMetrics(coin string, trades []models.Trade) analytics.Asset {
	for _, a := range analytics.AssetBreakdown(trades) {
		if a.Coin == coin {
			return a
		}
	}
	return analytics.Asset{Coin: coin, Dex: models.Dex(coin)}
}

// Asset returns 24h and 7d metrics, trends and the latest snapshots of one coin.
func (s *Service) Asset(ctx context.Context, coin string) (AssetDetail, error) {
	coin, err := s.resolveCoin(ctx, coin)
	if err != nil {
		return AssetDetail{}, err
	}
	return cached(ctx, s, "asset:"+coin, func(ctx context.Context) (AssetDetail, error) {
		now := s.now()
		day, week := now.Add(-24*time.Hour), now.Add(-7*24*time.Hour)

		weekTrades, err := s.trades.ByCoin(ctx, coin, week, 0)
		if err != nil {
			return AssetDetail{}, storageErr("load coin trades", err)
		}
		dayTrades := make([]models.Trade, 0, len(weekTrades))
		for _, t := range weekTrades {
			if !t.ReceivedAt.Before(day) {
				dayTrades = append(dayTrades, t)
			}
		}
		all, err := s.tradesSince(ctx, day)
		if err != nil {
			return AssetDetail{}, err
		}
		var total float64
		for _, t := range all {
			total += t.Volume
		}
		history, err := s.snapshots.History(ctx, coin, week)
		if err != nil {
			return AssetDetail{}, storageErr("load coin snapshots", err)
		}

		d := AssetDetail{
			Coin:       coin,
			Dex:        models.Dex(coin),
			Metrics24h: coinMetrics(coin, dayTrades),
			Metrics7d:  coinMetrics(coin, weekTrades),
		}
		d.VolumeShare24h = analytics.VolumeShare([]float64{d.Metrics24h.Volume}, total)
		d.VolumeTrend, d.OITrend = analytics.SnapshotTrends(history)
		if n := len(history); n > 0 {
			latest := history[n-1]
			d.Latest = &latest
			d.Metrics24h.CurrentOI = latest.OpenInterestUSD
			d.Metrics7d.CurrentOI = latest.OpenInterestUSD
			oracle := analytics.OracleHealth(history[n-1:]).Assets[0]
			d.Oracle = &oracle
		}
		start := len(history) - recentSnapshots
		if start < 0 {
			start = 0
		}
		d.RecentSnapshots = history[start:]
		return d, nil
	})
}

// Share is one coin's share of platform volume.
type Share struct {
	Coin        string  `json:"coin"`
	Hours       float64 `json:"timeframe_hours"`
	Volume      float64 `json:"volume"`
	TotalVolume float64 `json:"total_volume"`
	Share       float64 `json:"volume_share"`
}

// VolumeShare returns the percentage of platform volume traded on coin over the window.
func (s *Service) VolumeShare(ctx context.Context, coin string, hours float64) (Share, error) {
	coin, err := s.resolveCoin(ctx, coin)
	if err != nil {
		return Share{}, err
	}
	return cached(ctx, s, fmt.Sprintf("share:%s:%g", coin, hours), func(ctx context.Context) (Share, error) {
		_, since, err := s.since(hours)
		if err != nil {
			return Share{}, err
		}
		trades, err := s.tradesSince(ctx, since)
		if err != nil {
			return Share{}, err
		}
		out := Share{Coin: coin, Hours: hours}
		for _, t := range trades {
			out.TotalVolume += t.Volume
			if t.Coin == coin {
				out.Volume += t.Volume
			}
		}
		out.Share = analytics.VolumeShare([]float64{out.Volume}, out.TotalVolume)
		return out, nil
	})
}

// Ranking orders coins by one metric.
type Ranking struct {
	Metric  string                `json:"metric"`
	Hours   float64               `json:"timeframe_hours"`
	Entries []analytics.RankEntry `json:"rankings"`
}

// Rankings orders coins by volume, fees, oi or trades.
func (s *Service) Rankings(ctx context.Context, metric string, hours float64) (Ranking, error) {
	if _, ok := analytics.Rank(metric, nil); !ok {
		return Ranking{}, errors.Invalid.
			Explain("unknown metric %q", metric).
			WithField("oneof", "metric", fmt.Sprint(analytics.RankingMetrics))
	}
	return cached(ctx, s, fmt.Sprintf("rank:%s:%g", metric, hours), func(ctx context.Context) (Ranking, error) {
		assets, err := s.assets(ctx, hours)
		if err != nil {
			return Ranking{}, err
		}
		entries, _ := analytics.Rank(metric, assets)
		return Ranking{Metric: metric, Hours: hours, Entries: entries}, nil
	})
}

// Compare ranks coins by every metric at once.
func (s *Service) Compare(ctx context.Context, hours float64) (analytics.Comparison, error) {
	return cached(ctx, s, fmt.Sprintf("compare:%g", hours), func(ctx context.Context) (analytics.Comparison, error) {
		assets, err := s.assets(ctx, hours)
		if err != nil {
			return analytics.Comparison{}, err
		}
		return analytics.Compare(assets), nil
	})
}

// OpenInterestReport is OI concentration with the history of the largest positions.
type OpenInterestReport struct {
	analytics.OIReport
	Trends []analytics.OITrendReport `json:"trends"`
}

// OpenInterest analyses OI concentration and the trend of the top coins over the window.
func (s *Service) OpenInterest(ctx context.Context, hours float64) (OpenInterestReport, error) {
	return cached(ctx, s, fmt.Sprintf("oi:%g", hours), func(ctx context.Context) (OpenInterestReport, error) {
		_, since, err := s.since(hours)
		if err != nil {
			return OpenInterestReport{}, err
		}
		latest, err := s.latestSnapshots(ctx)
		if err != nil {
			return OpenInterestReport{}, err
		}
		out := OpenInterestReport{OIReport: analytics.OIAnalysis(latest), Trends: []analytics.OITrendReport{}}
		for i, share := range out.ByAsset {
			if i == oiTrendCoins {
				break
			}
			history, err := s.snapshots.History(ctx, share.Coin, since)
			if err != nil {
				return OpenInterestReport{}, storageErr("load oi history", err)
			}
			out.Trends = append(out.Trends, analytics.OITrend(share.Coin, history))
		}
		return out, nil
	})
}

// SnapshotSeries is the stored market history of one coin.
type SnapshotSeries struct {
	Coin        string                  `json:"coin"`
	Hours       float64                 `json:"timeframe_hours"`
	VolumeTrend string                  `json:"volume_trend"`
	OITrend     string                  `json:"oi_trend"`
	Snapshots   []models.MarketSnapshot `json:"snapshots"`
}

// Snapshots returns one coin's snapshots over the window, oldest first.
func (s *Service) Snapshots(ctx context.Context, coin string, hours float64) (SnapshotSeries, error) {
	coin, err := s.resolveCoin(ctx, coin)
	if err != nil {
		return SnapshotSeries{}, err
	}
	_, since, err := s.since(hours)
	if err != nil {
		return SnapshotSeries{}, err
	}
	history, err := s.snapshots.History(ctx, coin, since)
	if err != nil {
		return SnapshotSeries{}, storageErr("load snapshots", err)
	}
	out := SnapshotSeries{Coin: coin, Hours: hours, Snapshots: history}
	out.VolumeTrend, out.OITrend = analytics.SnapshotTrends(history)
	return out, nil
}

// OracleHealth summarises mark/oracle tightness across coins from the latest snapshots.
func (s *Service) OracleHealth(ctx context.Context) (analytics.OracleHealthReport, error) {
	return cached(ctx, s, "oracle", func(ctx context.Context) (analytics.OracleHealthReport, error) {
		latest, err := s.latestSnapshots(ctx)
		if err != nil {
			return analytics.OracleHealthReport{}, err
		}
		return analytics.OracleHealth(latest), nil
	})
}

// OracleHistory returns one coin's spread history over the window.
func (s *Service) OracleHistory(ctx context.Context, coin string, hours float64) (analytics.OracleHistoryReport, error) {
	coin, err := s.resolveCoin(ctx, coin)
	if err != nil {
		return analytics.OracleHistoryReport{}, err
	}
	_, since, err := s.since(hours)
	if err != nil {
		return analytics.OracleHistoryReport{}, err
	}
	history, err := s.snapshots.History(ctx, coin, since)
	if err != nil {
		return analytics.OracleHistoryReport{}, storageErr("load oracle history", err)
	}
	return analytics.OracleHistory(coin, history), nil
}

// Tightness is a point evaluation of a mark/oracle pair.
type Tightness struct {
	Coin           string  `json:"coin"`
	MarkPrice      float64 `json:"mark_price"`
	OraclePrice    float64 `json:"oracle_price"`
	SpreadPct      float64 `json:"spread_pct"`
	TightnessScore float64 `json:"tightness_score"`
	Rating         string  `json:"rating"`
}

// OracleTightness scores a caller supplied mark and oracle price.
func (s *Service) OracleTightness(coin string, mark, oracle float64) (Tightness, error) {
	if mark <= 0 || oracle <= 0 {
		return Tightness{}, errors.Invalid.Explain("mark_price and oracle_price must be positive")
	}
	spread := analytics.SpreadPct(mark, oracle)
	score := analytics.TightnessScore(spread)
	return Tightness{
		Coin:           coin,
		MarkPrice:      mark,
		OraclePrice:    oracle,
		SpreadPct:      spread,
		TightnessScore: score,
		Rating:         analytics.TightnessRating(score),
	}, nil
}

package analytics

import (
	"sort"
	"time"

	"github.com/Aidin1998/perpstats/internal/exchange"
)

// AssetVolume is a wallet's volume in one market next to the market's own 24h volume.
type AssetVolume struct {
	Coin         string  `json:"coin"`
	Volume       float64 `json:"volume"`
	Trades       int     `json:"trades"`
	MarketVolume float64 `json:"market_volume"`
	SharePct     float64 `json:"share_pct"`
}

// UserVolume is a wallet's volume on one dex.
type UserVolume struct {
	TotalVolume     float64       `json:"total_volume"`
	TotalTrades     int           `json:"total_trades"`
	AvgTradeSize    float64       `json:"avg_trade_size"`
	MarketVolume    float64       `json:"market_volume"`
	MarketSharePct  float64       `json:"market_share_pct"`
	ByAsset         []AssetVolume `json:"by_asset"`
	UntradedMarkets []string      `json:"untraded_markets,omitempty"`
}

// WalletVolume totals fills on dex per asset and relates them to marketVolumes (24h
// notional per coin). An empty dex counts every fill.
func WalletVolume(fills []exchange.Fill, dex string, marketVolumes map[string]float64) UserVolume {
	byCoin := make(map[string]*AssetVolume)
	var u UserVolume
	for _, f := range fills {
		if dex != "" && !hasDexPrefix(f.Coin, dex) {
			continue
		}
		a, ok := byCoin[f.Coin]
		if !ok {
			a = &AssetVolume{Coin: f.Coin}
			byCoin[f.Coin] = a
		}
		v := f.Notional()
		a.Volume += v
		a.Trades++
		u.TotalVolume += v
		u.TotalTrades++
	}
	for _, v := range marketVolumes {
		u.MarketVolume += v
	}
	u.AvgTradeSize = SafeDiv(u.TotalVolume, float64(u.TotalTrades))
	u.MarketSharePct = Percent(u.TotalVolume, u.MarketVolume)
	u.ByAsset = make([]AssetVolume, 0, len(byCoin))
	for _, a := range byCoin {
		a.MarketVolume = marketVolumes[a.Coin]
		a.SharePct = Percent(a.Volume, a.MarketVolume)
		u.ByAsset = append(u.ByAsset, *a)
	}
	sort.Slice(u.ByAsset, func(i, j int) bool {
		if u.ByAsset[i].Volume != u.ByAsset[j].Volume {
			return u.ByAsset[i].Volume > u.ByAsset[j].Volume
		}
		return u.ByAsset[i].Coin < u.ByAsset[j].Coin
	})
	for coin := range marketVolumes {
		if _, ok := byCoin[coin]; !ok {
			u.UntradedMarkets = append(u.UntradedMarkets, coin)
		}
	}
	sort.Strings(u.UntradedMarkets)
	return u
}

func hasDexPrefix(coin, dex string) bool {
	return len(coin) > len(dex) && coin[:len(dex)] == dex && coin[len(dex)] == ':'
}

// Activity describes how consistently a wallet traded over its whole history.
type Activity struct {
	TotalVolume      float64            `json:"total_volume"`
	TotalTrades      int                `json:"total_trades"`
	DaysActive       int                `json:"days_active"`
	MonthsActive     int                `json:"months_active"`
	TotalDays        int                `json:"total_days"`
	ConsistencyPct   float64            `json:"consistency_pct"`
	AvgDailyVolume   float64            `json:"avg_daily_volume"`
	MonthlyBreakdown map[string]float64 `json:"monthly_breakdown"`
	FirstTrade       *time.Time         `json:"first_trade,omitempty"`
	LastTrade        *time.Time         `json:"last_trade,omitempty"`
}

// ActivityMetrics groups fills by UTC day and month. Consistency is active days over the
// days between first and last fill, at least one.
func ActivityMetrics(fills []exchange.Fill) Activity {
	a := Activity{MonthlyBreakdown: make(map[string]float64)}
	days := make(map[string]struct{})
	var first, last int64
	for _, f := range fills {
		v := f.Notional()
		a.TotalVolume += v
		a.TotalTrades++
		if f.Time == 0 {
			continue
		}
		t := time.UnixMilli(f.Time).UTC()
		days[t.Format("2006-01-02")] = struct{}{}
		a.MonthlyBreakdown[t.Format("2006-01")] += v
		if first == 0 || f.Time < first {
			first = f.Time
		}
		if f.Time > last {
			last = f.Time
		}
	}
	a.DaysActive = len(days)
	a.MonthsActive = len(a.MonthlyBreakdown)
	a.TotalDays = 1
	if first != 0 {
		ft, lt := time.UnixMilli(first).UTC(), time.UnixMilli(last).UTC()
		a.FirstTrade, a.LastTrade = &ft, &lt
		a.TotalDays = max(int(lt.Sub(ft)/day), 1)
	}
	a.ConsistencyPct = Percent(float64(a.DaysActive), float64(a.TotalDays))
	a.AvgDailyVolume = SafeDiv(a.TotalVolume, float64(a.DaysActive))
	return a
}

// ConsistencyRating labels a consistency percentage.
func ConsistencyRating(pct float64) string {
	switch {
	case pct >= 50:
		return "Excellent"
	case pct >= 25:
		return "Good"
	case pct >= 10:
		return "Moderate"
	default:
		return "Low"
	}
}

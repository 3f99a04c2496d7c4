package analytics

import (
	"sort"
	"time"

	"github.com/Aidin1998/perpstats/pkg/models"
)

// Platform is the platform-wide activity over a window of trades.
type Platform struct {
	TotalVolume       float64 `json:"total_volume"`
	TotalTakerFees    float64 `json:"total_taker_fees"`
	TotalMakerRebates float64 `json:"total_maker_rebates"`
	PlatformRevenue   float64 `json:"platform_revenue"`
	UniqueWallets     int     `json:"unique_wallets"`
	TotalTrades       int     `json:"total_trades"`
	AssetsActive      int     `json:"assets_active"`
	AvgTradeSize      float64 `json:"avg_trade_size"`
}

// PlatformMetrics aggregates volume, estimated fees, wallets and assets over trades.
func PlatformMetrics(trades []models.Trade) Platform {
	var p Platform
	wallets := make(map[string]struct{})
	assets := make(map[string]struct{})
	for _, t := range trades {
		p.TotalVolume += t.Volume
		if t.Coin != "" {
			assets[t.Coin] = struct{}{}
		}
		for _, w := range t.Wallets() {
			wallets[w] = struct{}{}
		}
	}
	p.TotalTakerFees, p.TotalMakerRebates, p.PlatformRevenue = Fees(p.TotalVolume)
	p.UniqueWallets = len(wallets)
	p.TotalTrades = len(trades)
	p.AssetsActive = len(assets)
	p.AvgTradeSize = SafeDiv(p.TotalVolume, float64(p.TotalTrades))
	return p
}

// Asset is the per-instrument aggregate used by breakdowns, rankings and the fee report.
type Asset struct {
	Coin            string  `json:"coin"`
	Dex             string  `json:"dex"`
	Volume          float64 `json:"volume"`
	Trades          int     `json:"num_trades"`
	UniqueWallets   int     `json:"unique_wallets"`
	AvgTradeSize    float64 `json:"avg_trade_size"`
	MedianTradeSize float64 `json:"median_trade_size"`
	BuyVolume       float64 `json:"buy_volume"`
	SellVolume      float64 `json:"sell_volume"`
	BuySellRatio    float64 `json:"buy_sell_ratio"`
	Fees            float64 `json:"fees_collected"`
	CurrentOI       float64 `json:"current_oi"`
	AvgOI           float64 `json:"avg_oi"`
	VolumeShare     float64 `json:"volume_share"`
}

// AssetBreakdown aggregates trades per coin, ordered by volume descending.
func AssetBreakdown(trades []models.Trade) []Asset {
	type acc struct {
		Asset
		wallets map[string]struct{}
		sizes   []float64
	}
	byCoin := make(map[string]*acc)
	var total float64
	for _, t := range trades {
		if t.Coin == "" {
			continue
		}
		a, ok := byCoin[t.Coin]
		if !ok {
			a = &acc{Asset: Asset{Coin: t.Coin, Dex: t.Dex()}, wallets: make(map[string]struct{})}
			byCoin[t.Coin] = a
		}
		a.Volume += t.Volume
		a.Trades++
		a.sizes = append(a.sizes, t.Volume)
		if t.IsBuy() {
			a.BuyVolume += t.Volume
		} else {
			a.SellVolume += t.Volume
		}
		for _, w := range t.Wallets() {
			a.wallets[w] = struct{}{}
		}
		total += t.Volume
	}

	out := make([]Asset, 0, len(byCoin))
	for _, a := range byCoin {
		a.UniqueWallets = len(a.wallets)
		a.AvgTradeSize = SafeDiv(a.Volume, float64(a.Trades))
		a.MedianTradeSize = Median(a.sizes)
		a.BuySellRatio = SafeDiv(a.BuyVolume, a.SellVolume)
		_, _, a.Fees = Fees(a.Volume)
		a.VolumeShare = Percent(a.Volume, total)
		out = append(out, a.Asset)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		return out[i].Coin < out[j].Coin
	})
	return out
}

// WithOpenInterest fills CurrentOI from the latest snapshot per coin and AvgOI from the
// snapshot history. Coins only present in snapshots are appended with zero trade activity.
func WithOpenInterest(assets []Asset, latest, history []models.MarketSnapshot) []Asset {
	idx := make(map[string]int, len(assets))
	for i, a := range assets {
		idx[a.Coin] = i
	}
	for _, s := range latest {
		i, ok := idx[s.Coin]
		if !ok {
			assets = append(assets, Asset{Coin: s.Coin, Dex: s.Dex})
			i = len(assets) - 1
			idx[s.Coin] = i
		}
		assets[i].CurrentOI = s.OpenInterestUSD
	}
	ois := make(map[string][]float64)
	for _, s := range history {
		ois[s.Coin] = append(ois[s.Coin], s.OpenInterestUSD)
	}
	for coin, values := range ois {
		if i, ok := idx[coin]; ok {
			assets[i].AvgOI = Mean(values)
		}
	}
	return assets
}

// WalletStats is one wallet's behaviour over a window of trades.
type WalletStats struct {
	Wallet             string  `json:"wallet"`
	WalletShort        string  `json:"wallet_short"`
	TradeCount         int     `json:"trade_count"`
	TotalVolume        float64 `json:"total_volume"`
	AvgTradeSize       float64 `json:"avg_trade_size"`
	MedianTradeSize    float64 `json:"median_trade_size"`
	AssetsTradedCount  int     `json:"assets_traded_count"`
	FrequencyPerHour   float64 `json:"frequency_per_hour"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes"`
}

// WalletReport is the wallet analytics payload.
type WalletReport struct {
	TotalUniqueWallets  int           `json:"total_unique_wallets"`
	TopWallets          []WalletStats `json:"top_wallets"`
	AvgTradeSize        float64       `json:"avg_trade_size"`
	AvgFrequencyPerHour float64       `json:"avg_frequency_per_hour"`
	AvgDurationMinutes  float64       `json:"avg_duration_minutes"`
}

// WalletAnalytics computes per-wallet frequency, size and spacing between trades.
// At most top wallets by volume are returned; platform averages use every wallet.
func WalletAnalytics(trades []models.Trade, top int) WalletReport {
	type acc struct {
		volume float64
		assets map[string]struct{}
		times  []time.Time
		sizes  []float64
	}
	byWallet := make(map[string]*acc)
	for _, t := range trades {
		for _, w := range t.Wallets() {
			a, ok := byWallet[w]
			if !ok {
				a = &acc{assets: make(map[string]struct{})}
				byWallet[w] = a
			}
			a.volume += t.Volume
			a.assets[t.Coin] = struct{}{}
			a.times = append(a.times, t.ReceivedAt)
			a.sizes = append(a.sizes, t.Volume)
		}
	}

	stats := make([]WalletStats, 0, len(byWallet))
	for w, a := range byWallet {
		n := len(a.times)
		ws := WalletStats{
			Wallet:            w,
			WalletShort:       ShortWallet(w),
			TradeCount:        n,
			TotalVolume:       a.volume,
			AvgTradeSize:      SafeDiv(a.volume, float64(n)),
			MedianTradeSize:   Median(a.sizes),
			AssetsTradedCount: len(a.assets),
		}
		if n > 1 {
			sort.Slice(a.times, func(i, j int) bool { return a.times[i].Before(a.times[j]) })
			span := a.times[n-1].Sub(a.times[0]).Hours()
			if span < 0.1 {
				span = 0.1
			}
			ws.FrequencyPerHour = float64(n) / span
			ws.AvgDurationMinutes = a.times[n-1].Sub(a.times[0]).Minutes() / float64(n-1)
		}
		stats = append(stats, ws)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalVolume != stats[j].TotalVolume {
			return stats[i].TotalVolume > stats[j].TotalVolume
		}
		return stats[i].Wallet < stats[j].Wallet
	})

	report := WalletReport{TotalUniqueWallets: len(stats)}
	sizes := make([]float64, 0, len(stats))
	freqs := make([]float64, 0, len(stats))
	var durations []float64
	for _, s := range stats {
		sizes = append(sizes, s.AvgTradeSize)
		freqs = append(freqs, s.FrequencyPerHour)
		if s.AvgDurationMinutes > 0 {
			durations = append(durations, s.AvgDurationMinutes)
		}
	}
	report.AvgTradeSize = Mean(sizes)
	report.AvgFrequencyPerHour = Mean(freqs)
	report.AvgDurationMinutes = Mean(durations)
	if top > 0 && len(stats) > top {
		stats = stats[:top]
	}
	report.TopWallets = stats
	return report
}

// ShortWallet abbreviates an address as 0x1234...abcd.
func ShortWallet(w string) string {
	if len(w) <= 10 {
		return w
	}
	return w[:6] + "..." + w[len(w)-4:]
}

// Trader is one leaderboard row.
type Trader struct {
	Rank              int      `json:"rank"`
	Wallet            string   `json:"wallet"`
	TotalVolume       float64  `json:"total_volume"`
	TradeCount        int      `json:"trade_count"`
	AssetsTradedCount int      `json:"assets_traded_count"`
	AssetsTraded      []string `json:"assets_traded"`
	BuyVolume         float64  `json:"buy_volume"`
	SellVolume        float64  `json:"sell_volume"`
	BuySellRatio      float64  `json:"buy_sell_ratio"`
	AvgTradeSize      float64  `json:"avg_trade_size"`
	FeesPaid          float64  `json:"fees_paid"`
	MarketSharePct    float64  `json:"market_share_pct"`
}

// LeaderboardReport ranks wallets by volume on one dex.
type LeaderboardReport struct {
	Dex          string   `json:"dex"`
	TotalTraders int      `json:"total_traders"`
	TotalVolume  float64  `json:"total_volume"`
	Traders      []Trader `json:"leaderboard"`
}

// Leaderboard ranks wallets trading coins of dex by volume. An empty dex includes every coin.
// Fees paid assume the taker share of volume at the taker rate.
func Leaderboard(trades []models.Trade, dex string, limit int) LeaderboardReport {
	type acc struct {
		Trader
		assets map[string]struct{}
	}
	byWallet := make(map[string]*acc)
	for _, t := range trades {
		if dex != "" && t.Dex() != dex {
			continue
		}
		for _, w := range t.Wallets() {
			a, ok := byWallet[w]
			if !ok {
				a = &acc{Trader: Trader{Wallet: w}, assets: make(map[string]struct{})}
				byWallet[w] = a
			}
			a.TotalVolume += t.Volume
			a.TradeCount++
			a.assets[t.Coin] = struct{}{}
			if t.IsBuy() {
				a.BuyVolume += t.Volume
			} else {
				a.SellVolume += t.Volume
			}
			a.FeesPaid += t.Volume * TakerShare * TakerFee
		}
	}

	traders := make([]Trader, 0, len(byWallet))
	var total float64
	for _, a := range byWallet {
		a.AssetsTraded = make([]string, 0, len(a.assets))
		for c := range a.assets {
			a.AssetsTraded = append(a.AssetsTraded, c)
		}
		sort.Strings(a.AssetsTraded)
		a.AssetsTradedCount = len(a.AssetsTraded)
		a.BuySellRatio = SafeDiv(a.BuyVolume, a.SellVolume)
		a.AvgTradeSize = SafeDiv(a.TotalVolume, float64(a.TradeCount))
		total += a.TotalVolume
		traders = append(traders, a.Trader)
	}
	sort.Slice(traders, func(i, j int) bool {
		if traders[i].TotalVolume != traders[j].TotalVolume {
			return traders[i].TotalVolume > traders[j].TotalVolume
		}
		return traders[i].Wallet < traders[j].Wallet
	})
	for i := range traders {
		traders[i].Rank = i + 1
		traders[i].MarketSharePct = Percent(traders[i].TotalVolume, total)
	}

	report := LeaderboardReport{Dex: dex, TotalTraders: len(traders), TotalVolume: total}
	if limit > 0 && len(traders) > limit {
		traders = traders[:limit]
	}
	report.Traders = traders
	return report
}

// Distribution describes trade notional sizes over a window.
type Distribution struct {
	TotalTrades int                `json:"total_trades"`
	Percentiles map[string]float64 `json:"percentiles"`
	Mean        float64            `json:"mean"`
	Median      float64            `json:"median"`
	StdDev      float64            `json:"std_dev"`
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Histogram   []SizeBucket       `json:"distribution"`
}

// SizeDistribution computes percentiles and a histogram of trade notional sizes.
func SizeDistribution(trades []models.Trade) Distribution {
	sizes := make([]float64, 0, len(trades))
	for _, t := range trades {
		sizes = append(sizes, t.Volume)
	}
	d := Distribution{
		TotalTrades: len(sizes),
		Percentiles: Percentiles(sizes, 10, 25, 50, 75, 90, 95, 99),
		Mean:        Mean(sizes),
		Median:      Median(sizes),
		StdDev:      StdDev(sizes),
		Histogram:   SizeHistogram(sizes),
	}
	d.Min, d.Max = minMax(sizes)
	return d
}

// Window is the activity over one trailing period.
type Window struct {
	Trades        int     `json:"trades"`
	Volume        float64 `json:"volume"`
	UniqueWallets int     `json:"unique_wallets"`
	AvgTradeSize  float64 `json:"avg_trade_size"`
}

// Growth compares the trailing 1h, 24h and 7d windows.
type Growth struct {
	Hour1               Window  `json:"1h"`
	Hours24             Window  `json:"24h"`
	Days7               Window  `json:"7d"`
	NewWallets24h       int     `json:"new_wallets_24h"`
	Volume24hVs7dAvg    float64 `json:"volume_24h_vs_7d_avg_pct"`
	Trades24hVs7dAvg    float64 `json:"trades_24h_vs_7d_avg_pct"`
	WalletRetentionRate float64 `json:"wallet_retention_rate"`
}

// GrowthMetrics evaluates trades (which should cover at least the last 7 days) at now.
// A wallet is new in the last 24h when it did not trade earlier in the 7 day window;
// retention is the share of the last 24h's wallets that also traded before.
func GrowthMetrics(trades []models.Trade, now time.Time) Growth {
	type window struct {
		since   time.Time
		w       Window
		wallets map[string]struct{}
	}
	windows := []*window{
		{since: now.Add(-time.Hour)},
		{since: now.Add(-24 * time.Hour)},
		{since: now.Add(-7 * 24 * time.Hour)},
	}
	for _, w := range windows {
		w.wallets = make(map[string]struct{})
	}
	earlier := make(map[string]struct{})
	for _, t := range trades {
		for _, w := range windows {
			if t.ReceivedAt.Before(w.since) {
				continue
			}
			w.w.Trades++
			w.w.Volume += t.Volume
			for _, addr := range t.Wallets() {
				w.wallets[addr] = struct{}{}
			}
		}
		if !t.ReceivedAt.Before(windows[2].since) && t.ReceivedAt.Before(windows[1].since) {
			for _, addr := range t.Wallets() {
				earlier[addr] = struct{}{}
			}
		}
	}
	for _, w := range windows {
		w.w.UniqueWallets = len(w.wallets)
		w.w.AvgTradeSize = SafeDiv(w.w.Volume, float64(w.w.Trades))
	}

	g := Growth{Hour1: windows[0].w, Hours24: windows[1].w, Days7: windows[2].w}
	returning := 0
	for addr := range windows[1].wallets {
		if _, ok := earlier[addr]; ok {
			returning++
		}
	}
	g.NewWallets24h = len(windows[1].wallets) - returning
	g.WalletRetentionRate = Percent(float64(returning), float64(len(windows[1].wallets)))
	g.Volume24hVs7dAvg = GrowthRate(g.Days7.Volume/7, g.Hours24.Volume)
	g.Trades24hVs7dAvg = GrowthRate(float64(g.Days7.Trades)/7, float64(g.Hours24.Trades))
	return g
}

// DefaultLargeTradeUSD is the notional above which a trade counts as large.
const DefaultLargeTradeUSD = 100_000.0

// LargeTrade is one trade at or above the large-trade threshold.
type LargeTrade struct {
	Coin       string    `json:"coin"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	ValueUSD   float64   `json:"value_usd"`
	Side       string    `json:"side"`
	ReceivedAt time.Time `json:"received_at"`
	Hash       string    `json:"hash,omitempty"`
}

// LargeTradeReport lists the largest trades of a window and how trade sizes split
// into small (under $10k), medium and large.
type LargeTradeReport struct {
	ThresholdUSD float64      `json:"threshold_usd"`
	TotalTrades  int          `json:"total_trades"`
	LargeCount   int          `json:"large_trade_count"`
	LargeVolume  float64      `json:"large_trade_volume"`
	AvgTradeSize float64      `json:"avg_trade_size"`
	MedianSize   float64      `json:"median_trade_size"`
	SmallPct     float64      `json:"small_trades_pct"`
	MediumPct    float64      `json:"medium_trades_pct"`
	LargePct     float64      `json:"large_trades_pct"`
	Trades       []LargeTrade `json:"trades"`
}

// LargeTrades picks trades whose notional is at least threshold, largest first, keeping
// at most limit of them. Equal values are ordered by receive time.
func LargeTrades(trades []models.Trade, threshold float64, limit int) LargeTradeReport {
	if threshold <= 0 {
		threshold = DefaultLargeTradeUSD
	}
	r := LargeTradeReport{ThresholdUSD: threshold, TotalTrades: len(trades), Trades: []LargeTrade{}}
	sizes := make([]float64, 0, len(trades))
	var small, medium, large int
	for _, t := range trades {
		sizes = append(sizes, t.Volume)
		switch {
		case t.Volume < 10_000:
			small++
		case t.Volume < 100_000:
			medium++
		default:
			large++
		}
		if t.Volume < threshold {
			continue
		}
		side := "SELL"
		if t.IsBuy() {
			side = "BUY"
		}
		r.LargeCount++
		r.LargeVolume += t.Volume
		r.Trades = append(r.Trades, LargeTrade{
			Coin:       t.Coin,
			Price:      t.Price,
			Size:       t.Size,
			ValueUSD:   t.Volume,
			Side:       side,
			ReceivedAt: t.ReceivedAt,
			Hash:       t.Hash,
		})
	}
	sort.SliceStable(r.Trades, func(i, j int) bool {
		a, b := r.Trades[i], r.Trades[j]
		if a.ValueUSD != b.ValueUSD {
			return a.ValueUSD > b.ValueUSD
		}
		return a.ReceivedAt.Before(b.ReceivedAt)
	})
	if limit > 0 && len(r.Trades) > limit {
		r.Trades = r.Trades[:limit]
	}
	r.AvgTradeSize = Mean(sizes)
	r.MedianSize = Median(sizes)
	n := float64(len(trades))
	r.SmallPct = Percent(float64(small), n)
	r.MediumPct = Percent(float64(medium), n)
	r.LargePct = Percent(float64(large), n)
	return r
}

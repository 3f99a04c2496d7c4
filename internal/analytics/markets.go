package analytics

import (
	"sort"
	"time"

	"github.com/Aidin1998/perpstats/pkg/models"
)

// OIShare is one instrument's share of total open interest.
type OIShare struct {
	Coin    string  `json:"coin"`
	Dex     string  `json:"dex"`
	OI      float64 `json:"oi"`
	OIShare float64 `json:"oi_share"`
}

// OIReport summarises open interest concentration.
type OIReport struct {
	TotalOI            float64   `json:"total_oi"`
	AvgOIPerAsset      float64   `json:"avg_oi_per_asset"`
	ConcentrationIndex float64   `json:"concentration_index"`
	ConcentrationLevel string    `json:"concentration_level"`
	ByAsset            []OIShare `json:"by_asset"`
}

// OIAnalysis computes per-instrument OI shares and the HHI over them from the latest
// snapshot of each instrument.
func OIAnalysis(latest []models.MarketSnapshot) OIReport {
	var total float64
	for _, s := range latest {
		total += s.OpenInterestUSD
	}
	report := OIReport{TotalOI: total, ByAsset: make([]OIShare, 0, len(latest))}
	shares := make([]float64, 0, len(latest))
	for _, s := range latest {
		share := Percent(s.OpenInterestUSD, total)
		report.ByAsset = append(report.ByAsset, OIShare{Coin: s.Coin, Dex: s.Dex, OI: s.OpenInterestUSD, OIShare: share})
		shares = append(shares, share)
	}
	sort.SliceStable(report.ByAsset, func(i, j int) bool { return report.ByAsset[i].OI > report.ByAsset[j].OI })
	report.AvgOIPerAsset = SafeDiv(total, float64(len(latest)))
	report.ConcentrationIndex = HHI(shares)
	report.ConcentrationLevel = ConcentrationLevel(report.ConcentrationIndex)
	return report
}

// OIPoint is one sample of an OI series.
type OIPoint struct {
	Timestamp time.Time `json:"timestamp"`
	OI        float64   `json:"oi"`
}

// OITrendReport describes how an instrument's OI moved over its history.
type OITrendReport struct {
	Coin      string    `json:"coin"`
	Current   float64   `json:"current"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Avg       float64   `json:"avg"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	Direction string    `json:"direction"`
	Series    []OIPoint `json:"series"`
}

// OITrend summarises an ascending snapshot history of one instrument's OI in USD.
func OITrend(coin string, history []models.MarketSnapshot) OITrendReport {
	r := OITrendReport{Coin: coin, Series: make([]OIPoint, 0, len(history))}
	values := make([]float64, 0, len(history))
	for _, s := range history {
		r.Series = append(r.Series, OIPoint{Timestamp: s.Timestamp, OI: s.OpenInterestUSD})
		values = append(values, s.OpenInterestUSD)
	}
	if len(values) == 0 {
		r.Direction = TrendFlat
		return r
	}
	first := values[0]
	r.Current = values[len(values)-1]
	r.Min, r.Max = minMax(values)
	r.Avg = Mean(values)
	r.Change = r.Current - first
	r.ChangePct = GrowthRate(first, r.Current)
	r.Direction = Trend(values)
	return r
}

// SnapshotTrends returns the direction of 24h volume and OI across a snapshot history.
func SnapshotTrends(history []models.MarketSnapshot) (volume, oi string) {
	vols := make([]float64, 0, len(history))
	ois := make([]float64, 0, len(history))
	for _, s := range history {
		vols = append(vols, s.Volume24h)
		ois = append(ois, s.OpenInterestUSD)
	}
	return Trend(vols), Trend(ois)
}

// Ranking metrics.
const (
	MetricVolume = "volume"
	MetricFees   = "fees"
	MetricOI     = "oi"
	MetricTrades = "trades"
)

// RankingMetrics lists the metrics accepted by Rank.
var RankingMetrics = []string{MetricVolume, MetricFees, MetricOI, MetricTrades}

// RankEntry is one instrument in a ranking.
type RankEntry struct {
	Rank  int     `json:"rank"`
	Coin  string  `json:"coin"`
	Value float64 `json:"value"`
	Share float64 `json:"share"`
}

func metricValue(a Asset, metric string) (float64, bool) {
	switch metric {
	case MetricVolume:
		return a.Volume, true
	case MetricFees:
		return a.Fees, true
	case MetricOI:
		return a.CurrentOI, true
	case MetricTrades:
		return float64(a.Trades), true
	}
	return 0, false
}

// Rank orders assets by metric descending with each asset's share of the metric total.
// It reports false for an unknown metric.
func Rank(metric string, assets []Asset) ([]RankEntry, bool) {
	if _, ok := metricValue(Asset{}, metric); !ok {
		return nil, false
	}
	var total float64
	out := make([]RankEntry, 0, len(assets))
	for _, a := range assets {
		v, _ := metricValue(a, metric)
		total += v
		out = append(out, RankEntry{Coin: a.Coin, Value: v})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Coin < out[j].Coin
	})
	for i := range out {
		out[i].Rank = i + 1
		out[i].Share = Percent(out[i].Value, total)
	}
	return out, true
}

// Comparison ranks assets by every metric at once.
type Comparison struct {
	ByVolume    []RankEntry `json:"by_volume"`
	ByFees      []RankEntry `json:"by_fees"`
	ByOI        []RankEntry `json:"by_oi"`
	ByTrades    []RankEntry `json:"by_trades"`
	TotalVolume float64     `json:"total_volume"`
	TotalFees   float64     `json:"total_fees"`
	TotalOI     float64     `json:"total_oi"`
	TotalTrades int         `json:"total_trades"`
}

// Compare builds every ranking over assets.
func Compare(assets []Asset) Comparison {
	var c Comparison
	c.ByVolume, _ = Rank(MetricVolume, assets)
	c.ByFees, _ = Rank(MetricFees, assets)
	c.ByOI, _ = Rank(MetricOI, assets)
	c.ByTrades, _ = Rank(MetricTrades, assets)
	for _, a := range assets {
		c.TotalVolume += a.Volume
		c.TotalFees += a.Fees
		c.TotalOI += a.CurrentOI
		c.TotalTrades += a.Trades
	}
	return c
}

// AssetFees is one instrument's row of the fee report.
type AssetFees struct {
	Coin       string  `json:"coin"`
	Fees       float64 `json:"fees"`
	Volume     float64 `json:"volume"`
	FeeRatePct float64 `json:"fee_rate_pct"`
	FeeShare   float64 `json:"fee_share"`
}

// FeeReport breaks estimated fees down per instrument and projects them forward.
type FeeReport struct {
	TotalFees               float64     `json:"total_fees"`
	TotalVolume             float64     `json:"total_volume"`
	AvgFeeRatePct           float64     `json:"avg_fee_rate_pct"`
	ProjectedAnnualRevenue  float64     `json:"projected_annual_revenue"`
	ProjectedMonthlyRevenue float64     `json:"projected_monthly_revenue"`
	ByAsset                 []AssetFees `json:"by_asset"`
}

// FeeBreakdown projects fees collected over hours onto a year.
func FeeBreakdown(assets []Asset, hours float64) FeeReport {
	var r FeeReport
	for _, a := range assets {
		r.TotalFees += a.Fees
		r.TotalVolume += a.Volume
	}
	r.AvgFeeRatePct = Percent(r.TotalFees, r.TotalVolume)
	r.ProjectedAnnualRevenue = SafeDiv(r.TotalFees, hours) * 24 * 365
	r.ProjectedMonthlyRevenue = r.ProjectedAnnualRevenue / 12
	r.ByAsset = make([]AssetFees, 0, len(assets))
	for _, a := range assets {
		r.ByAsset = append(r.ByAsset, AssetFees{
			Coin:       a.Coin,
			Fees:       a.Fees,
			Volume:     a.Volume,
			FeeRatePct: Percent(a.Fees, a.Volume),
			FeeShare:   Percent(a.Fees, r.TotalFees),
		})
	}
	sort.SliceStable(r.ByAsset, func(i, j int) bool { return r.ByAsset[i].Fees > r.ByAsset[j].Fees })
	return r
}

// AssetActivity is one instrument's row of the activity report.
type AssetActivity struct {
	Coin         string  `json:"coin"`
	Trades       int     `json:"num_trades"`
	TradeShare   float64 `json:"trade_share"`
	Volume       float64 `json:"volume"`
	AvgTradeSize float64 `json:"avg_trade_size"`
}

// ActivityReport describes trading velocity over a window.
type ActivityReport struct {
	TotalTrades   int             `json:"total_trades"`
	TradesPerHour float64         `json:"trades_per_hour"`
	AvgTradeSize  float64         `json:"avg_trade_size"`
	ByAsset       []AssetActivity `json:"by_asset"`
}

// TradingActivity computes trade velocity over a window of hours.
func TradingActivity(assets []Asset, hours float64) ActivityReport {
	var r ActivityReport
	var volume float64
	for _, a := range assets {
		r.TotalTrades += a.Trades
		volume += a.Volume
	}
	r.TradesPerHour = SafeDiv(float64(r.TotalTrades), hours)
	r.AvgTradeSize = SafeDiv(volume, float64(r.TotalTrades))
	r.ByAsset = make([]AssetActivity, 0, len(assets))
	for _, a := range assets {
		r.ByAsset = append(r.ByAsset, AssetActivity{
			Coin:         a.Coin,
			Trades:       a.Trades,
			TradeShare:   Percent(float64(a.Trades), float64(r.TotalTrades)),
			Volume:       a.Volume,
			AvgTradeSize: a.AvgTradeSize,
		})
	}
	sort.SliceStable(r.ByAsset, func(i, j int) bool { return r.ByAsset[i].Trades > r.ByAsset[j].Trades })
	return r
}

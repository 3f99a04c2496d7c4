package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/Aidin1998/perpstats/pkg/models"
)

// SpreadPct is |mark-oracle|/oracle in percent. A non-positive oracle price yields 0.
func SpreadPct(mark, oracle float64) float64 {
	if oracle <= 0 {
		return 0
	}
	return finite(math.Abs(mark-oracle) / oracle * 100)
}

// TightnessScore maps a spread in percent to a 0-100 score. The curve is piecewise and
// intentionally discontinuous at its breakpoints.
func TightnessScore(spreadPct float64) float64 {
	switch {
	case spreadPct < 0.01:
		return 100
	case spreadPct < 0.1:
		return 100 - spreadPct*100
	case spreadPct < 1:
		return 90 - spreadPct*10
	default:
		return math.Max(0, 50-spreadPct)
	}
}

// TightnessRating labels a single instrument's tightness score.
func TightnessRating(score float64) string {
	switch {
	case score >= 95:
		return "Excellent"
	case score >= 85:
		return "Good"
	case score >= 70:
		return "Fair"
	default:
		return "Poor"
	}
}

// PlatformHealth labels the average tightness across instruments.
func PlatformHealth(avgScore float64) string {
	switch {
	case avgScore >= 95:
		return "Excellent"
	case avgScore >= 90:
		return "Good"
	case avgScore >= 80:
		return "Fair"
	default:
		return "Poor"
	}
}

// Spread trend labels.
const (
	TrendImproving        = "improving"
	TrendDegrading        = "degrading"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// SpreadTrend compares the recent half of a spread series with the earlier half.
// Narrowing spreads by more than 10% is improving, widening by more than 10% is degrading.
func SpreadTrend(spreads []float64) string {
	if len(spreads) < 2 {
		return TrendInsufficientData
	}
	mid := len(spreads) / 2
	early := Mean(spreads[:mid])
	recent := Mean(spreads[mid:])
	switch {
	case recent < early*0.9:
		return TrendImproving
	case recent > early*1.1:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// OracleAsset is the latest oracle reading of one instrument.
type OracleAsset struct {
	Coin           string    `json:"coin"`
	Dex            string    `json:"dex"`
	MarkPrice      float64   `json:"mark_price"`
	OraclePrice    float64   `json:"oracle_price"`
	SpreadPct      float64   `json:"spread_pct"`
	TightnessScore float64   `json:"tightness_score"`
	Rating         string    `json:"rating"`
	Timestamp      time.Time `json:"timestamp"`
}

// OracleHealthReport summarises oracle tightness across instruments.
type OracleHealthReport struct {
	AvgTightnessScore float64       `json:"avg_tightness_score"`
	AvgSpreadPct      float64       `json:"avg_spread_pct"`
	PlatformHealth    string        `json:"platform_oracle_health"`
	NumAssets         int           `json:"num_assets"`
	Assets            []OracleAsset `json:"assets"`
}

// OracleHealth builds the health report from the latest snapshot of each instrument,
// ordered by tightness descending.
func OracleHealth(latest []models.MarketSnapshot) OracleHealthReport {
	report := OracleHealthReport{Assets: make([]OracleAsset, 0, len(latest))}
	scores := make([]float64, 0, len(latest))
	spreads := make([]float64, 0, len(latest))
	for _, s := range latest {
		report.Assets = append(report.Assets, OracleAsset{
			Coin:           s.Coin,
			Dex:            s.Dex,
			MarkPrice:      s.MarkPrice,
			OraclePrice:    s.OraclePrice,
			SpreadPct:      s.SpreadPct,
			TightnessScore: s.TightnessScore,
			Rating:         TightnessRating(s.TightnessScore),
			Timestamp:      s.Timestamp,
		})
		scores = append(scores, s.TightnessScore)
		spreads = append(spreads, s.SpreadPct)
	}
	sort.SliceStable(report.Assets, func(i, j int) bool {
		return report.Assets[i].TightnessScore > report.Assets[j].TightnessScore
	})
	report.NumAssets = len(report.Assets)
	report.AvgTightnessScore = Mean(scores)
	report.AvgSpreadPct = Mean(spreads)
	report.PlatformHealth = PlatformHealth(report.AvgTightnessScore)
	return report
}

// OraclePoint is one sample of an instrument's oracle history.
type OraclePoint struct {
	Timestamp      time.Time `json:"timestamp"`
	MarkPrice      float64   `json:"mark_price"`
	OraclePrice    float64   `json:"oracle_price"`
	SpreadPct      float64   `json:"spread_pct"`
	Premium        float64   `json:"premium"`
	TightnessScore float64   `json:"tightness_score"`
}

// OracleHistoryReport is the spread history of one instrument with summary statistics.
type OracleHistoryReport struct {
	Coin              string        `json:"coin"`
	DataPoints        int           `json:"data_points"`
	CurrentSpreadPct  float64       `json:"current_spread_pct"`
	AvgSpreadPct      float64       `json:"avg_spread_pct"`
	MinSpreadPct      float64       `json:"min_spread_pct"`
	MaxSpreadPct      float64       `json:"max_spread_pct"`
	SpreadVolatility  float64       `json:"spread_volatility"`
	AvgPremium        float64       `json:"avg_premium"`
	PremiumVolatility float64       `json:"premium_volatility"`
	Trend             string        `json:"trend"`
	History           []OraclePoint `json:"history"`
}

// OracleHistory summarises an ascending snapshot history of one instrument.
func OracleHistory(coin string, history []models.MarketSnapshot) OracleHistoryReport {
	report := OracleHistoryReport{Coin: coin, DataPoints: len(history), History: make([]OraclePoint, 0, len(history))}
	spreads := make([]float64, 0, len(history))
	premiums := make([]float64, 0, len(history))
	for _, s := range history {
		report.History = append(report.History, OraclePoint{
			Timestamp:      s.Timestamp,
			MarkPrice:      s.MarkPrice,
			OraclePrice:    s.OraclePrice,
			SpreadPct:      s.SpreadPct,
			Premium:        s.Premium,
			TightnessScore: s.TightnessScore,
		})
		spreads = append(spreads, s.SpreadPct)
		premiums = append(premiums, s.Premium)
	}
	if len(spreads) > 0 {
		report.CurrentSpreadPct = spreads[len(spreads)-1]
		report.MinSpreadPct, report.MaxSpreadPct = minMax(spreads)
	}
	report.AvgSpreadPct = Mean(spreads)
	report.SpreadVolatility = StdDev(spreads)
	report.AvgPremium = Mean(premiums)
	report.PremiumVolatility = StdDev(premiums)
	report.Trend = SpreadTrend(spreads)
	return report
}

// OracleCategory aggregates the latest oracle readings of one dex.
type OracleCategory struct {
	Dex               string  `json:"dex"`
	NumAssets         int     `json:"num_assets"`
	AvgTightnessScore float64 `json:"avg_tightness_score"`
	AvgSpreadPct      float64 `json:"avg_spread_pct"`
}

// OracleAnalysisReport breaks oracle health down by dex and picks out the best and
// worst instruments.
type OracleAnalysisReport struct {
	OracleHealthReport
	Categories     []OracleCategory `json:"categories"`
	TopPerformers  []OracleAsset    `json:"top_performers"`
	NeedsAttention []OracleAsset    `json:"needs_attention"`
}

// attentionThreshold is the tightness score below which an instrument is flagged.
const attentionThreshold = 80

// OracleAnalysis extends OracleHealth with a per-dex breakdown, the five tightest
// instruments and up to five of the loosest scoring below 80. Main dex coins are
// grouped under "main".
func OracleAnalysis(latest []models.MarketSnapshot) OracleAnalysisReport {
	r := OracleAnalysisReport{OracleHealthReport: OracleHealth(latest)}

	type acc struct{ scores, spreads []float64 }
	byDex := make(map[string]*acc)
	for _, a := range r.Assets {
		dex := a.Dex
		if dex == "" {
			dex = models.Dex(a.Coin)
		}
		if dex == "" {
			dex = "main"
		}
		g, ok := byDex[dex]
		if !ok {
			g = &acc{}
			byDex[dex] = g
		}
		g.scores = append(g.scores, a.TightnessScore)
		g.spreads = append(g.spreads, a.SpreadPct)
	}
	r.Categories = make([]OracleCategory, 0, len(byDex))
	for dex, g := range byDex {
		r.Categories = append(r.Categories, OracleCategory{
			Dex:               dex,
			NumAssets:         len(g.scores),
			AvgTightnessScore: Mean(g.scores),
			AvgSpreadPct:      Mean(g.spreads),
		})
	}
	sort.Slice(r.Categories, func(i, j int) bool { return r.Categories[i].Dex < r.Categories[j].Dex })

	r.TopPerformers = append([]OracleAsset{}, r.Assets[:min(5, len(r.Assets))]...)
	r.NeedsAttention = []OracleAsset{}
	for i := len(r.Assets) - 1; i >= 0 && len(r.NeedsAttention) < 5; i-- {
		if r.Assets[i].TightnessScore < attentionThreshold {
			r.NeedsAttention = append(r.NeedsAttention, r.Assets[i])
		}
	}
	return r
}

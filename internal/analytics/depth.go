package analytics

import (
	"sort"

	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/pkg/models"
)

// Imbalance directions.
const (
	ImbalanceBid      = "bid"
	ImbalanceAsk      = "ask"
	ImbalanceBalanced = "balanced"
)

// Depth summarises the top of an order book. Depth figures are in coin units.
type Depth struct {
	Coin            string  `json:"coin"`
	BestBid         float64 `json:"best_bid"`
	BestAsk         float64 `json:"best_ask"`
	MidPrice        float64 `json:"mid_price"`
	Spread          float64 `json:"spread"`
	SpreadBps       float64 `json:"spread_bps"`
	BidDepth1Pct    float64 `json:"bid_depth_1pct"`
	AskDepth1Pct    float64 `json:"ask_depth_1pct"`
	BidDepth5Pct    float64 `json:"bid_depth_5pct"`
	AskDepth5Pct    float64 `json:"ask_depth_5pct"`
	Imbalance       float64 `json:"depth_imbalance"`
	ImbalanceSide   string  `json:"imbalance_direction"`
	LiquidityScore  float64 `json:"liquidity_score"`
	LiquidityRating string  `json:"liquidity_rating"`
}

// MarketDepth measures spread and resting size within 1% and 5% of the mid price.
// It reports false when either side is empty or a best price is not positive.
func MarketDepth(book exchange.Book) (Depth, bool) {
	bids, asks := book.Bids(), book.Asks()
	if len(bids) == 0 || len(asks) == 0 {
		return Depth{}, false
	}
	bid, ask := bids[0].Px.Float64(), asks[0].Px.Float64()
	if bid <= 0 || ask <= 0 {
		return Depth{}, false
	}
	mid := (bid + ask) / 2
	d := Depth{
		Coin:      book.Coin,
		BestBid:   bid,
		BestAsk:   ask,
		MidPrice:  mid,
		Spread:    ask - bid,
		SpreadBps: SafeDiv(ask-bid, mid) * 10_000,
	}
	d.BidDepth1Pct = sideDepth(bids, func(px float64) bool { return px >= mid*0.99 })
	d.BidDepth5Pct = sideDepth(bids, func(px float64) bool { return px >= mid*0.95 })
	d.AskDepth1Pct = sideDepth(asks, func(px float64) bool { return px <= mid*1.01 })
	d.AskDepth5Pct = sideDepth(asks, func(px float64) bool { return px <= mid*1.05 })
	d.Imbalance = SafeDiv(d.BidDepth5Pct, d.AskDepth5Pct)
	switch {
	case d.Imbalance > 1:
		d.ImbalanceSide = ImbalanceBid
	case d.Imbalance < 1:
		d.ImbalanceSide = ImbalanceAsk
	default:
		d.ImbalanceSide = ImbalanceBalanced
	}
	d.LiquidityScore = LiquidityScore((d.BidDepth1Pct+d.AskDepth1Pct)/2, d.SpreadBps)
	d.LiquidityRating = LiquidityRating(d.LiquidityScore)
	return d, true
}

func sideDepth(levels []exchange.BookLevel, within func(px float64) bool) float64 {
	var sum float64
	for _, l := range levels {
		if px := l.Px.Float64(); px > 0 && within(px) {
			sum += l.Sz.Float64()
		}
	}
	return sum
}

// LiquidityScore rates a book out of 100: half from average depth within 1% of mid,
// half from the spread in basis points.
func LiquidityScore(avgDepth1Pct, spreadBps float64) float64 {
	var depth float64
	switch {
	case avgDepth1Pct > 100:
		depth = 50
	case avgDepth1Pct > 50:
		depth = 40
	case avgDepth1Pct > 10:
		depth = 30
	case avgDepth1Pct > 1:
		depth = 20
	default:
		depth = 10
	}
	var spread float64
	switch {
	case spreadBps < 5:
		spread = 50
	case spreadBps < 10:
		spread = 40
	case spreadBps < 20:
		spread = 30
	case spreadBps < 50:
		spread = 20
	default:
		spread = 10
	}
	return depth + spread
}

// LiquidityRating labels a liquidity score.
func LiquidityRating(score float64) string {
	switch {
	case score >= 80:
		return "Excellent"
	case score >= 60:
		return "Good"
	case score >= 40:
		return "Fair"
	default:
		return "Poor"
	}
}

// DepthPoint is one level of a depth chart with the size accumulated from the top.
type DepthPoint struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Depth float64 `json:"depth"`
}

// DepthChart is the cumulative book of a coin.
type DepthChart struct {
	Coin         string       `json:"coin"`
	Bids         []DepthPoint `json:"bids"`
	Asks         []DepthPoint `json:"asks"`
	TotalBidSize float64      `json:"total_bid_liquidity"`
	TotalAskSize float64      `json:"total_ask_liquidity"`
}

// DepthChartFrom accumulates up to levels price levels per side, bids from the highest
// price down and asks from the lowest up. Levels without a positive price are skipped.
func DepthChartFrom(book exchange.Book, levels int) DepthChart {
	return DepthChart{
		Coin: book.Coin,
		Bids: cumulative(book.Bids(), levels, true),
		Asks: cumulative(book.Asks(), levels, false),
	}.withTotals()
}

func (c DepthChart) withTotals() DepthChart {
	if n := len(c.Bids); n > 0 {
		c.TotalBidSize = c.Bids[n-1].Depth
	}
	if n := len(c.Asks); n > 0 {
		c.TotalAskSize = c.Asks[n-1].Depth
	}
	return c
}

func cumulative(side []exchange.BookLevel, levels int, desc bool) []DepthPoint {
	points := make([]DepthPoint, 0, len(side))
	for _, l := range side {
		if px := l.Px.Float64(); px > 0 {
			points = append(points, DepthPoint{Price: px, Size: l.Sz.Float64()})
		}
	}
	sort.SliceStable(points, func(i, j int) bool {
		if desc {
			return points[i].Price > points[j].Price
		}
		return points[i].Price < points[j].Price
	})
	if levels > 0 && len(points) > levels {
		points = points[:levels]
	}
	var total float64
	for i := range points {
		total += points[i].Size
		points[i].Depth = total
	}
	return points
}

// Neutral component score used when a market health input is missing.
const NeutralScore = 50.0

// MarketHealth blends oracle tightness and book liquidity into one score.
type MarketHealth struct {
	Coin            string  `json:"coin"`
	HealthScore     float64 `json:"health_score"`
	HealthRating    string  `json:"health_rating"`
	OracleTightness float64 `json:"oracle_tightness"`
	Liquidity       float64 `json:"liquidity"`
	SpreadBps       float64 `json:"spread_bps"`
	HasOracle       bool    `json:"has_oracle"`
	HasDepth        bool    `json:"has_depth"`
}

// HealthScore weighs oracle tightness at 40% and liquidity at 60%.
func HealthScore(tightness, liquidity float64) float64 {
	return 0.4*tightness + 0.6*liquidity
}

// HealthRating labels a market health score.
func HealthRating(score float64) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 75:
		return "Good"
	case score >= 60:
		return "Fair"
	case score >= 40:
		return "Poor"
	default:
		return "Critical"
	}
}

// Health scores a market from its latest oracle reading and book depth. Either may be
// nil, in which case that component counts as NeutralScore.
func Health(coin string, oracle *models.MarketSnapshot, depth *Depth) MarketHealth {
	h := MarketHealth{Coin: coin, OracleTightness: NeutralScore, Liquidity: NeutralScore}
	if oracle != nil {
		h.HasOracle = true
		h.OracleTightness = oracle.TightnessScore
	}
	if depth != nil {
		h.HasDepth = true
		h.Liquidity = depth.LiquidityScore
		h.SpreadBps = depth.SpreadBps
	}
	h.HealthScore = HealthScore(h.OracleTightness, h.Liquidity)
	h.HealthRating = HealthRating(h.HealthScore)
	return h
}

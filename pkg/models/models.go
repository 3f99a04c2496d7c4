package models

import (
	"strings"
	"time"
)

// ZeroAddress is the placeholder counterparty the exchange reports for system fills.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Trade sides as reported by the exchange.
const (
	SideBuy  = "B"
	SideSell = "A"
)

// Trade is a single fill received from the trades stream. Rows are immutable once written.
type Trade struct {
	ID         uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Coin       string    `json:"coin" gorm:"size:64;not null;index:idx_trades_coin;index:idx_trades_coin_received,priority:1"`
	Price      float64   `json:"price" gorm:"not null"`
	Size       float64   `json:"size" gorm:"not null"`
	Volume     float64   `json:"volume" gorm:"not null"`
	Side       string    `json:"side" gorm:"size:1"`
	TradeTime  int64     `json:"trade_time" gorm:"index:idx_trades_trade_time"` // exchange time, unix ms
	ReceivedAt time.Time `json:"received_at" gorm:"not null;index:idx_trades_received_at;index:idx_trades_coin_received,priority:2"`
	User1      *string   `json:"user1,omitempty" gorm:"size:42;index:idx_trades_user1"`
	User2      *string   `json:"user2,omitempty" gorm:"size:42;index:idx_trades_user2"`
	Hash       string    `json:"hash,omitempty" gorm:"size:66"`
	TID        int64     `json:"tid,omitempty"`
	Raw        string    `json:"-" gorm:"type:text"`
}

// TableName keeps the table name stable regardless of naming strategy.
func (Trade) TableName() string { return "trades" }

// Dex returns the dex the trade's coin is listed on.
func (t Trade) Dex() string { return Dex(t.Coin) }

// Wallets returns the non-empty counterparties of the trade.
func (t Trade) Wallets() []string {
	out := make([]string, 0, 2)
	if t.User1 != nil && *t.User1 != "" {
		out = append(out, *t.User1)
	}
	if t.User2 != nil && *t.User2 != "" {
		out = append(out, *t.User2)
	}
	return out
}

// IsBuy reports whether the taker bought.
func (t Trade) IsBuy() bool { return t.Side == SideBuy }

// MarketSnapshot is one poll of an instrument's market state.
type MarketSnapshot struct {
	ID              uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Timestamp       time.Time `json:"timestamp" gorm:"not null;index:idx_snapshots_ts;index:idx_snapshots_coin_ts,priority:2;index:idx_snapshots_dex_ts,priority:2"`
	Dex             string    `json:"dex" gorm:"size:32;index:idx_snapshots_dex_ts,priority:1"`
	Coin            string    `json:"coin" gorm:"size:64;not null;index:idx_snapshots_coin_ts,priority:1"`
	MarkPrice       float64   `json:"mark_price"`
	OraclePrice     float64   `json:"oracle_price"`
	OpenInterest    float64   `json:"open_interest"`
	OpenInterestUSD float64   `json:"open_interest_usd"`
	Volume24h       float64   `json:"volume_24h"`
	FundingRate     float64   `json:"funding_rate"`
	Premium         float64   `json:"premium"`
	PrevDayPrice    float64   `json:"prev_day_price"`
	SpreadPct       float64   `json:"spread_pct"`
	TightnessScore  float64   `json:"tightness_score"`
}

func (MarketSnapshot) TableName() string { return "market_snapshots" }

// SummaryStats is a cached aggregate over the trades table. A new row is appended on every refresh.
type SummaryStats struct {
	ID            uint64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ComputedAt    time.Time  `json:"computed_at" gorm:"not null;index"`
	TotalTrades   int64      `json:"total_trades"`
	TotalVolume   float64    `json:"total_volume"`
	UniqueWallets int64      `json:"unique_wallets"`
	AssetsActive  int64      `json:"assets_active"`
	OldestTradeAt *time.Time `json:"oldest_trade_at,omitempty"`
	NewestTradeAt *time.Time `json:"newest_trade_at,omitempty"`
}

func (SummaryStats) TableName() string { return "trade_stats" }

// OldestAge is the age of the oldest stored trade at now, zero when there are none.
func (s SummaryStats) OldestAge(now time.Time) time.Duration {
	if s.OldestTradeAt == nil {
		return 0
	}
	return now.Sub(*s.OldestTradeAt)
}

// NewestAge is the age of the newest stored trade at now, zero when there are none.
func (s SummaryStats) NewestAge(now time.Time) time.Duration {
	if s.NewestTradeAt == nil {
		return 0
	}
	return now.Sub(*s.NewestTradeAt)
}

// WalletActivity aggregates one wallet's trading history.
type WalletActivity struct {
	Wallet     string    `json:"wallet"`
	FirstTrade time.Time `json:"first_trade"`
	LastTrade  time.Time `json:"last_trade"`
	Trades     int64     `json:"trades"`
	Volume     float64   `json:"volume"`
	DaysActive int       `json:"days_active"`
}

// Dex returns the dex prefix of a coin name ("xyz:TSLA" -> "xyz"); main dex coins return "".
func Dex(coin string) string {
	if i := strings.IndexByte(coin, ':'); i > 0 {
		return coin[:i]
	}
	return ""
}

// NormalizeWallet lower-cases an address and maps the zero address to "".
func NormalizeWallet(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == ZeroAddress {
		return ""
	}
	return addr
}

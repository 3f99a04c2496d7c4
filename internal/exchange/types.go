package exchange

import (
	"encoding/json"

	"github.com/Aidin1998/perpstats/pkg/fixed"
)

// AssetMeta is one entry of a dex universe.
type AssetMeta struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted"`
}

// AssetContext is the live market state of one asset. Every numeric field tolerates
// numbers, numeric strings, null and garbage; the latter two decode as 0.
type AssetContext struct {
	MarkPx       fixed.Float `json:"markPx"`
	OraclePx     fixed.Float `json:"oraclePx"`
	MidPx        fixed.Float `json:"midPx"`
	OpenInterest fixed.Float `json:"openInterest"`
	DayNtlVlm    fixed.Float `json:"dayNtlVlm"`
	Funding      fixed.Float `json:"funding"`
	Premium      fixed.Float `json:"premium"`
	PrevDayPx    fixed.Float `json:"prevDayPx"`
}

// AssetState pairs a listed asset with its context. HasContext is false when the
// upstream response did not include a context for the asset.
type AssetState struct {
	Dex        string
	Coin       string
	Context    AssetContext
	HasContext bool
}

// Fill is one of a user's executions as returned by userFillsByTime.
type Fill struct {
	Coin      string      `json:"coin"`
	Px        fixed.Float `json:"px"`
	Sz        fixed.Float `json:"sz"`
	Side      string      `json:"side"`
	Time      int64       `json:"time"`
	Dir       string      `json:"dir"`
	ClosedPnl fixed.Float `json:"closedPnl"`
	Fee       fixed.Float `json:"fee"`
	Crossed   bool        `json:"crossed"`
	Hash      string      `json:"hash"`
	TID       int64       `json:"tid"`
}

// Notional is the absolute traded value of the fill.
func (f Fill) Notional() float64 {
	v := float64(f.Px) * float64(f.Sz)
	if v < 0 {
		return -v
	}
	return v
}

// WireTrade is a trade as pushed on the trades channel.
type WireTrade struct {
	Coin  string      `json:"coin"`
	Side  string      `json:"side"`
	Px    fixed.Float `json:"px"`
	Sz    fixed.Float `json:"sz"`
	Time  int64       `json:"time"`
	Hash  string      `json:"hash"`
	TID   int64       `json:"tid"`
	Users []string    `json:"users"`

	raw json.RawMessage
}

// Raw returns the original payload of the trade.
func (t WireTrade) Raw() json.RawMessage { return t.raw }

// streamMessage is the envelope of every websocket push.
type streamMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMidsData struct {
	Mids map[string]fixed.Float `json:"mids"`
}

type subscribeRequest struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
	Dex  string `json:"dex,omitempty"`
}

// BookLevel is one aggregated price level of an order book.
type BookLevel struct {
	Px fixed.Float `json:"px"`
	Sz fixed.Float `json:"sz"`
	N  int         `json:"n"`
}

// Book is an l2Book response. Levels holds bids then asks, best price first.
type Book struct {
	Coin   string        `json:"coin"`
	Time   int64         `json:"time"`
	Levels [][]BookLevel `json:"levels"`
}

// Bids returns the bid side, nil when the book is empty.
func (b Book) Bids() []BookLevel {
	if len(b.Levels) < 1 {
		return nil
	}
	return b.Levels[0]
}

// Asks returns the ask side, nil when the book has no second side.
func (b Book) Asks() []BookLevel {
	if len(b.Levels) < 2 {
		return nil
	}
	return b.Levels[1]
}

// Package feed turns websocket pushes into queued trades, live broadcasts and mid prices.
package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/internal/ingest"
	"github.com/Aidin1998/perpstats/pkg/models"
	"go.uber.org/zap"
)

// Enqueuer accepts trades without blocking.
type Enqueuer interface {
	Enqueue(trade models.Trade) error
}

// Broadcaster publishes live payloads to dashboard clients.
type Broadcaster interface {
	Broadcast(topic string, payload any)
}

// Status summarises the collector for health endpoints.
type Status struct {
	TradesSeen   int64     `json:"trades_seen"`
	TradesQueued int64     `json:"trades_queued"`
	Rejected     int64     `json:"rejected"`
	LastTradeAt  time.Time `json:"last_trade_at"`
	Coins        int       `json:"coins_with_mids"`
}

// Collector implements exchange.StreamHandler.
type Collector struct {
	queue  Enqueuer
	recent *ingest.Recent
	hub    Broadcaster
	logger *zap.Logger

	clockMu sync.Mutex
	lastAt  time.Time
	now     func() time.Time

	midsMu sync.RWMutex
	mids   map[string]float64

	seen     atomic.Int64
	queued   atomic.Int64
	rejected atomic.Int64
}

var _ exchange.StreamHandler = (*Collector)(nil)

// NewCollector wires the collector. hub may be nil.
func NewCollector(queue Enqueuer, recent *ingest.Recent, hub Broadcaster, logger *zap.Logger) *Collector {
	return &Collector{
		queue:  queue,
		recent: recent,
		hub:    hub,
		logger: logger.Named("feed"),
		now:    time.Now,
		mids:   make(map[string]float64),
	}
}

// stamp returns an ingestion timestamp that never goes backwards, even if the wall clock does.
func (c *Collector) stamp(at time.Time) time.Time {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	at = at.UTC()
	if at.Before(c.lastAt) {
		at = c.lastAt
	}
	c.lastAt = at
	return at
}

// OnTrades converts, stamps and enqueues pushed trades in arrival order.
func (c *Collector) OnTrades(trades []exchange.WireTrade, receivedAt time.Time) {
	at := c.stamp(receivedAt)
	for _, wt := range trades {
		trade := exchange.ToModel(wt, at)
		c.seen.Add(1)
		if err := c.queue.Enqueue(trade); err != nil {
			c.rejected.Add(1)
			c.logger.Debug("trade rejected by writer", zap.String("coin", trade.Coin), zap.Error(err))
			continue
		}
		c.queued.Add(1)
		if c.recent != nil {
			c.recent.Add(trade)
		}
		if c.hub != nil {
			c.hub.Broadcast("trades", trade)
			c.hub.Broadcast("trades:"+trade.Coin, trade)
		}
	}
}

// OnMids replaces the known mid prices with the pushed ones.
func (c *Collector) OnMids(mids map[string]float64) {
	c.midsMu.Lock()
	defer c.midsMu.Unlock()
	for coin, px := range mids {
		c.mids[coin] = px
	}
}

// Mid returns the last mid price of a coin.
func (c *Collector) Mid(coin string) (float64, bool) {
	c.midsMu.RLock()
	defer c.midsMu.RUnlock()
	px, ok := c.mids[coin]
	return px, ok
}

// Mids returns a copy of all known mid prices.
func (c *Collector) Mids() map[string]float64 {
	c.midsMu.RLock()
	defer c.midsMu.RUnlock()
	out := make(map[string]float64, len(c.mids))
	for k, v := range c.mids {
		out[k] = v
	}
	return out
}

// Status returns the collector counters.
func (c *Collector) Status() Status {
	c.clockMu.Lock()
	last := c.lastAt
	c.clockMu.Unlock()
	c.midsMu.RLock()
	coins := len(c.mids)
	c.midsMu.RUnlock()
	return Status{
		TradesSeen:   c.seen.Load(),
		TradesQueued: c.queued.Load(),
		Rejected:     c.rejected.Load(),
		LastTradeAt:  last,
		Coins:        coins,
	}
}

package ingest

import (
	"sort"
	"sync"

	"github.com/Aidin1998/perpstats/pkg/models"
)

// Recent keeps the last N trades per coin in memory for the live endpoints.
type Recent struct {
	mu    sync.RWMutex
	size  int
	coins map[string]*tradeRing
}

type tradeRing struct {
	buf   []models.Trade
	start int
	count int
}

func NewRecent(perCoin int) *Recent {
	if perCoin <= 0 {
		perCoin = 50
	}
	return &Recent{size: perCoin, coins: make(map[string]*tradeRing)}
}

// Add records a trade, evicting the coin's oldest entry when full.
func (r *Recent) Add(t models.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring, ok := r.coins[t.Coin]
	if !ok {
		ring = &tradeRing{buf: make([]models.Trade, r.size)}
		r.coins[t.Coin] = ring
	}
	idx := (ring.start + ring.count) % r.size
	if ring.count == r.size {
		ring.start = (ring.start + 1) % r.size
		ring.count--
	}
	ring.buf[idx] = t
	ring.count++
}

// Get returns up to limit of the coin's latest trades, newest first. limit <= 0 returns all.
func (r *Recent) Get(coin string, limit int) []models.Trade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ring, ok := r.coins[coin]
	if !ok {
		return nil
	}
	n := ring.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Trade, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ring.buf[(ring.start+ring.count-1-i)%r.size])
	}
	return out
}

// Coins lists coins with buffered trades.
func (r *Recent) Coins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.coins))
	for c := range r.coins {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

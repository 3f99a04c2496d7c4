package feed

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/internal/ingest"
	"github.com/Aidin1998/perpstats/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeQueue struct {
	trades []models.Trade
	closed bool
}

func (q *fakeQueue) Enqueue(t models.Trade) error {
	if q.closed {
		return ingest.ErrClosed
	}
	q.trades = append(q.trades, t)
	return nil
}

type fakeHub struct {
	mu     sync.Mutex
	topics []string
}

func (h *fakeHub) Broadcast(topic string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics = append(h.topics, topic)
}

func wireTrades(t *testing.T, raw string) []exchange.WireTrade {
	t.Helper()
	trades, err := exchange.ParseTrades(json.RawMessage(raw))
	require.NoError(t, err)
	return trades
}

func TestCollectorEnqueuesInOrderWithMonotonicStamp(t *testing.T) {
	q := &fakeQueue{}
	hub := &fakeHub{}
	recent := ingest.NewRecent(10)
	c := NewCollector(q, recent, hub, zap.NewNop())

	t0 := time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC)
	c.OnTrades(wireTrades(t, `[{"coin":"xyz:TSLA","px":"1","sz":"1","tid":1},{"coin":"xyz:NVDA","px":"2","sz":"1","tid":2}]`), t0)
	// wall clock stepped backwards
	c.OnTrades(wireTrades(t, `[{"coin":"xyz:TSLA","px":"3","sz":"1","tid":3}]`), t0.Add(-5*time.Second))

	require.Len(t, q.trades, 3)
	for i, tr := range q.trades {
		assert.EqualValues(t, i+1, tr.TID)
		if i > 0 {
			assert.False(t, tr.ReceivedAt.Before(q.trades[i-1].ReceivedAt))
		}
	}
	assert.Equal(t, t0, q.trades[2].ReceivedAt)

	assert.Len(t, recent.Get("xyz:TSLA", 0), 2)
	assert.Contains(t, hub.topics, "trades:xyz:NVDA")

	status := c.Status()
	assert.EqualValues(t, 3, status.TradesSeen)
	assert.EqualValues(t, 3, status.TradesQueued)
}

func TestCollectorCountsRejected(t *testing.T) {
	q := &fakeQueue{closed: true}
	c := NewCollector(q, nil, nil, zap.NewNop())
	c.OnTrades(wireTrades(t, `[{"coin":"xyz:TSLA","px":"1","sz":"1"}]`), time.Now())
	assert.EqualValues(t, 1, c.Status().Rejected)
}

func TestCollectorMids(t *testing.T) {
	c := NewCollector(&fakeQueue{}, nil, nil, zap.NewNop())
	c.OnMids(map[string]float64{"xyz:TSLA": 250})
	c.OnMids(map[string]float64{"xyz:NVDA": 120})

	px, ok := c.Mid("xyz:TSLA")
	assert.True(t, ok)
	assert.Equal(t, 250.0, px)
	assert.Len(t, c.Mids(), 2)
	assert.Equal(t, 2, c.Status().Coins)
}

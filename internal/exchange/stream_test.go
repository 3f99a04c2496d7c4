package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const tradesPush = `{"channel":"trades","data":[
  {"coin":"xyz:TSLA","side":"B","px":"250.5","sz":"2","time":1735689600000,"hash":"0xh","tid":7,
   "users":["0xAbC0000000000000000000000000000000000001","0x0000000000000000000000000000000000000000"]},
  {"coin":"","px":"1","sz":"1"},
  {"coin":"xyz:NVDA","side":"A","px":"100","sz":"-3","time":1735689600001,"users":[]}
]}`

func TestParseTradesKeepsRaw(t *testing.T) {
	var env streamMessage
	require.NoError(t, json.Unmarshal([]byte(tradesPush), &env))

	trades, err := ParseTrades(env.Data)
	require.NoError(t, err)
	require.Len(t, trades, 2, "entries without coin are skipped")
	assert.Contains(t, string(trades[0].Raw()), `"tid":7`)
}

func TestToModel(t *testing.T) {
	var env streamMessage
	require.NoError(t, json.Unmarshal([]byte(tradesPush), &env))
	trades, err := ParseTrades(env.Data)
	require.NoError(t, err)

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tsla := ToModel(trades[0], at)
	assert.Equal(t, 501.0, tsla.Volume)
	require.NotNil(t, tsla.User1)
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", *tsla.User1)
	assert.Nil(t, tsla.User2, "zero address is not a counterparty")
	assert.Equal(t, at, tsla.ReceivedAt)
	assert.NotEmpty(t, tsla.Raw)

	nvda := ToModel(trades[1], at)
	assert.Equal(t, 3.0, nvda.Size)
	assert.Equal(t, 300.0, nvda.Volume)
	assert.Nil(t, nvda.User1)
}

type recordingHandler struct {
	mu     sync.Mutex
	trades []WireTrade
	mids   map[string]float64
}

func (h *recordingHandler) OnTrades(trades []WireTrade, _ time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trades = append(h.trades, trades...)
}

func (h *recordingHandler) OnMids(mids map[string]float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mids = mids
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.trades)
}

func TestSubscriberSubscribesAndDispatches(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subs := make(chan subscribeRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ {
			var req subscribeRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			subs <- req
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"allMids","data":{"mids":{"xyz:TSLA":"250.1"}}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(tradesPush))
		// keep the session open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := config.ExchangeConfig{WSURL: "ws" + strings.TrimPrefix(srv.URL, "http"), ReconnectMin: 10 * time.Millisecond}
	handler := &recordingHandler{}
	coins := func(context.Context) ([]string, error) { return []string{"xyz:TSLA"}, nil }
	sub := NewSubscriber(cfg, coins, handler, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sub.Run(ctx) }()

	assert.Eventually(t, func() bool { return handler.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, sub.Connected())
	assert.False(t, sub.LastMessage().IsZero())

	first, second := <-subs, <-subs
	assert.Equal(t, "allMids", first.Subscription.Type)
	assert.Equal(t, subscription{Type: "trades", Coin: "xyz:TSLA"}, second.Subscription)

	handler.mu.Lock()
	assert.Equal(t, 250.1, handler.mids["xyz:TSLA"])
	handler.mu.Unlock()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestSubscriberReconnects(t *testing.T) {
	var mu sync.Mutex
	connects := 0
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connects++
		mu.Unlock()
		conn.Close()
	}))
	defer srv.Close()

	cfg := config.ExchangeConfig{WSURL: "ws" + strings.TrimPrefix(srv.URL, "http"), ReconnectMin: 5 * time.Millisecond, ReconnectMax: 20 * time.Millisecond}
	sub := NewSubscriber(cfg, func(context.Context) ([]string, error) { return nil, nil }, &recordingHandler{}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go sub.Run(ctx)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

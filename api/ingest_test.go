package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Aidin1998/perpstats/internal/database"
	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/pkg/fixed"
	"github.com/Aidin1998/perpstats/pkg/models"
)

func post(t *testing.T, router http.Handler, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func countTrades(t *testing.T, db *gorm.DB, coin string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Trade{}).Where("coin = ?", coin).Count(&n).Error)
	return n
}

const ingestedTrade = `{"coin":"xyz:AAPL","side":"B","px":"227.5","sz":"4","time":1741608000000,"tid":42,
	"users":["0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA","0x0000000000000000000000000000000000000000"]}`

func TestIngestTrade(t *testing.T) {
	srv, db := newTestServer(t, testServer{ingest: true})

	w, env := post(t, srv.Router(), "/api/v1/ingest/trade", ingestedTrade)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)

	var stored models.Trade
	require.NoError(t, json.Unmarshal(env.Data, &stored))
	assert.Equal(t, "xyz:AAPL", stored.Coin)
	assert.Equal(t, 910.0, stored.Volume)
	require.NotNil(t, stored.User1)
	assert.Equal(t, "0x"+strings.Repeat("a", 40), *stored.User1)
	assert.Nil(t, stored.User2)
	assert.EqualValues(t, 1, countTrades(t, db, "xyz:AAPL"))

	_, listed := get(t, srv.Router(), "/api/v1/trades/large?coin=xyz:AAPL&threshold=900")
	assert.Contains(t, string(listed.Data), `"large_trade_count":1`)
}

func TestIngestTradeRetriesBusyDatabase(t *testing.T) {
	srv, db := newTestServer(t, testServer{ingest: true, policy: database.RetryPolicy{Attempts: 3}})

	failures := 0
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:busy_once", func(tx *gorm.DB) {
		if tx.Statement.Table == "trades" && failures == 0 {
			failures++
			_ = tx.AddError(fmt.Errorf("database is locked"))
		}
	}))

	w, env := post(t, srv.Router(), "/api/v1/ingest/trade", ingestedTrade)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, 1, failures)
	assert.EqualValues(t, 1, countTrades(t, db, "xyz:AAPL"))
}

func TestIngestTradeBusyDatabaseGivesUp(t *testing.T) {
	srv, db := newTestServer(t, testServer{ingest: true, policy: database.RetryPolicy{Attempts: 2}})
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:busy_always", func(tx *gorm.DB) {
		if tx.Statement.Table == "trades" {
			_ = tx.AddError(fmt.Errorf("database is locked"))
		}
	}))

	w, env := post(t, srv.Router(), "/api/v1/ingest/trade", ingestedTrade)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, env.Error, "database is locked")
	assert.Zero(t, countTrades(t, db, "xyz:AAPL"))
}

func TestIngestTradeValidation(t *testing.T) {
	srv, _ := newTestServer(t, testServer{ingest: true})
	cases := []struct {
		body  string
		field string
	}{
		{`{"side":"B","px":"1","sz":"1"}`, "coin"},
		{`{"coin":"xyz:AAPL","side":"X","px":"1","sz":"1"}`, "side"},
		{`{"coin":"xyz:AAPL","side":"A","px":"oops","sz":"1"}`, "px"},
		{`{"coin":"xyz:AAPL","side":"A","px":"1","sz":"0"}`, "sz"},
		{`{"coin":"xyz:AAPL","side":"A","px":"1","sz":"1","users":["bob"]}`, "users[0]"},
	}
	for _, tc := range cases {
		w, env := post(t, srv.Router(), "/api/v1/ingest/trade", tc.body)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.body)
		require.NotEmpty(t, env.Fields, tc.body)
		assert.Equal(t, tc.field, env.Fields[0].Field, tc.body)
	}

	w, _ := post(t, srv.Router(), "/api/v1/ingest/trade", `{"coin":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestDisabled(t *testing.T) {
	srv, _ := newTestServer(t, testServer{})
	w, env := post(t, srv.Router(), "/api/v1/ingest/trade", ingestedTrade)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, env.Success)
}

func TestIngestSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, testServer{ingest: true})
	router := srv.Router()

	w, env := post(t, router, "/api/v1/ingest/snapshot",
		`{"coin":"xyz:AAPL","snapshot":{"markPx":"228","oraclePx":"227.9","openInterest":"1000","dayNtlVlm":null}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var snap models.MarketSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "xyz", snap.Dex)
	assert.InDelta(t, 228_000, snap.OpenInterestUSD, 1e-6)

	_, health := get(t, router, "/api/v1/oracle/health")
	assert.Contains(t, string(health.Data), `"xyz:AAPL"`)

	w, env = post(t, router, "/api/v1/ingest/snapshot", `{"coin":"xyz:AAPL"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotEmpty(t, env.Fields)
	assert.Equal(t, "snapshot", env.Fields[0].Field)

	w, env = post(t, router, "/api/v1/ingest/snapshot", `{"coin":"xyz:AAPL","snapshot":{"markPx":"228"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotEmpty(t, env.Fields)
	assert.Equal(t, "invalid_price", env.Fields[0].Kind)
}

type staticBooks struct {
	book exchange.Book
	err  error
}

func (s staticBooks) L2Book(context.Context, string) (exchange.Book, error) {
	return s.book, s.err
}

func lvl(px, sz float64) exchange.BookLevel {
	return exchange.BookLevel{Px: fixed.Of(px), Sz: fixed.Of(sz), N: 1}
}

func TestDepthEndpoint(t *testing.T) {
	books := staticBooks{book: exchange.Book{Levels: [][]exchange.BookLevel{
		{lvl(249.9, 500), lvl(249, 10)},
		{lvl(250.1, 400), lvl(252, 10)},
	}}}
	srv, _ := newTestServer(t, testServer{books: books})
	router := srv.Router()

	w, env := get(t, router, "/api/v1/depth/xyz:TSLA")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"liquidity_rating":"Excellent"`)
	assert.Contains(t, string(env.Data), `"total_bid_liquidity":510`)
	assert.Contains(t, string(env.Data), `"stale":false`)

	w, env = get(t, router, "/api/v1/market/xyz:TSLA/health")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"health_rating":"Excellent"`)

	srv, _ = newTestServer(t, testServer{books: staticBooks{err: fmt.Errorf("upstream timeout")}})
	w, env = get(t, srv.Router(), "/api/v1/depth/xyz:TSLA")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, env.Error, "upstream timeout")

	w, _ = get(t, srv.Router(), "/api/v1/market/xyz:TSLA/health")
	assert.Equal(t, http.StatusOK, w.Code, "health falls back to a neutral liquidity score")
}

func TestIngestedTradesUseReceiveTime(t *testing.T) {
	srv, db := newTestServer(t, testServer{ingest: true})
	_, _ = post(t, srv.Router(), "/api/v1/ingest/trade", ingestedTrade)

	var stored models.Trade
	require.NoError(t, db.Where("coin = ?", "xyz:AAPL").First(&stored).Error)
	assert.True(t, stored.ReceivedAt.Equal(now), "received at %s", stored.ReceivedAt.Format(time.RFC3339))
	assert.EqualValues(t, 1741608000000, stored.TradeTime)
}

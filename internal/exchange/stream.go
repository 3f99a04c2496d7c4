package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/pkg/metrics"
	"github.com/Aidin1998/perpstats/pkg/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// StreamHandler receives decoded pushes. Calls happen on the subscriber's read goroutine
// and must not block.
type StreamHandler interface {
	OnTrades(trades []WireTrade, receivedAt time.Time)
	OnMids(mids map[string]float64)
}

// CoinSource resolves the coins to subscribe to on every (re)connect.
type CoinSource func(ctx context.Context) ([]string, error)

// Subscriber keeps a websocket subscription to allMids and per-coin trades alive,
// reconnecting with capped exponential backoff until its context is cancelled.
type Subscriber struct {
	url     string
	coins   CoinSource
	handler StreamHandler
	logger  *zap.Logger
	dialer  *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration

	connected atomic.Bool
	lastMsg   atomic.Int64
}

func NewSubscriber(cfg config.ExchangeConfig, coins CoinSource, handler StreamHandler, logger *zap.Logger) *Subscriber {
	minBackoff, maxBackoff := cfg.ReconnectMin, cfg.ReconnectMax
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return &Subscriber{
		url:        cfg.WSURL,
		coins:      coins,
		handler:    handler,
		logger:     logger.Named("stream"),
		dialer:     websocket.DefaultDialer,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
}

// Connected reports whether a websocket session is currently open.
func (s *Subscriber) Connected() bool { return s.connected.Load() }

// LastMessage returns when the last push was received.
func (s *Subscriber) LastMessage() time.Time {
	if ns := s.lastMsg.Load(); ns > 0 {
		return time.Unix(0, ns).UTC()
	}
	return time.Time{}
}

// Run blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		started := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > s.maxBackoff {
			backoff = s.minBackoff
		}
		metrics.StreamReconnects.Inc()
		s.logger.Warn("trades stream disconnected, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff = time.Duration(math.Min(float64(backoff*2), float64(s.maxBackoff)))
	}
}

// session runs one connection from dial to disconnect.
func (s *Subscriber) session(ctx context.Context) error {
	coins, err := s.coins(ctx)
	if err != nil {
		return fmt.Errorf("resolve coins: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	s.connected.Store(true)
	defer s.connected.Store(false)

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				conn.Close()
				return
			case <-ticker.C:
				if err := write(map[string]string{"method": "ping"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	if err := write(subscribeRequest{Method: "subscribe", Subscription: subscription{Type: "allMids"}}); err != nil {
		return fmt.Errorf("subscribe allMids: %w", err)
	}
	for _, coin := range coins {
		if err := write(subscribeRequest{Method: "subscribe", Subscription: subscription{Type: "trades", Coin: coin}}); err != nil {
			return fmt.Errorf("subscribe trades %s: %w", coin, err)
		}
	}
	s.logger.Info("trades stream connected", zap.Int("coins", len(coins)))

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		s.lastMsg.Store(now.UnixNano())
		s.dispatch(msg, now)
	}
}

func (s *Subscriber) dispatch(msg []byte, receivedAt time.Time) {
	var env streamMessage
	if err := json.Unmarshal(msg, &env); err != nil {
		s.logger.Debug("ignoring undecodable stream message", zap.Error(err))
		return
	}
	metrics.StreamMessages.WithLabelValues(env.Channel).Inc()

	switch env.Channel {
	case "trades":
		trades, err := ParseTrades(env.Data)
		if err != nil {
			s.logger.Warn("malformed trades push", zap.Error(err))
			return
		}
		if len(trades) > 0 {
			s.handler.OnTrades(trades, receivedAt)
		}
	case "allMids":
		var data allMidsData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			s.logger.Warn("malformed allMids push", zap.Error(err))
			return
		}
		mids := make(map[string]float64, len(data.Mids))
		for coin, px := range data.Mids {
			mids[coin] = px.Float64()
		}
		s.handler.OnMids(mids)
	case "error":
		s.logger.Warn("stream error", zap.ByteString("data", env.Data))
	}
}

// ParseTrades decodes a trades push, keeping each entry's raw payload.
// Entries that cannot be decoded are skipped.
func ParseTrades(data json.RawMessage) ([]WireTrade, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	out := make([]WireTrade, 0, len(items))
	for _, item := range items {
		var t WireTrade
		if err := json.Unmarshal(item, &t); err != nil || t.Coin == "" {
			continue
		}
		t.raw = append(json.RawMessage(nil), item...)
		out = append(out, t)
	}
	return out, nil
}

// ToModel converts a pushed trade into a storable row. The zero address is dropped
// from the counterparties and addresses are lower-cased.
func ToModel(t WireTrade, receivedAt time.Time) models.Trade {
	price := t.Px.Float64()
	size := math.Abs(t.Sz.Float64())
	trade := models.Trade{
		Coin:       t.Coin,
		Price:      price,
		Size:       size,
		Volume:     price * size,
		Side:       t.Side,
		TradeTime:  t.Time,
		ReceivedAt: receivedAt.UTC(),
		Hash:       t.Hash,
		TID:        t.TID,
		Raw:        string(t.raw),
	}
	if trade.Raw == "" {
		if b, err := json.Marshal(t); err == nil {
			trade.Raw = string(b)
		}
	}
	if len(t.Users) > 0 {
		trade.User1 = walletPtr(t.Users[0])
	}
	if len(t.Users) > 1 {
		trade.User2 = walletPtr(t.Users[1])
	}
	return trade
}

func walletPtr(addr string) *string {
	w := models.NormalizeWallet(addr)
	if w == "" {
		return nil
	}
	return &w
}

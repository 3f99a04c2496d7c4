// Package exchange talks to the upstream exchange: the info endpoint over HTTPS and
// the trades stream over WebSocket.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/pkg/metrics"
	"go.uber.org/zap"
)

// Client queries the exchange info endpoint.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    cfg.InfoURL,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("exchange"),
	}
}

// post sends an info request and decodes the response into out.
func (c *Client) post(ctx context.Context, body map[string]any, out any) error {
	reqType, _ := body["type"].(string)
	started := time.Now()
	err := c.do(ctx, body, out)
	metrics.UpstreamLatency.WithLabelValues(reqType).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(reqType).Inc()
		return fmt.Errorf("info %s: %w", reqType, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Meta returns the listed (non-delisted) assets of a dex. An empty dex means the main dex.
func (c *Client) Meta(ctx context.Context, dex string) ([]AssetMeta, error) {
	body := map[string]any{"type": "meta"}
	if dex != "" {
		body["dex"] = dex
	}
	var resp struct {
		Universe []AssetMeta `json:"universe"`
	}
	if err := c.post(ctx, body, &resp); err != nil {
		return nil, err
	}
	out := make([]AssetMeta, 0, len(resp.Universe))
	for _, a := range resp.Universe {
		if a.IsDelisted || a.Name == "" {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// MetaAndAssetCtxs returns every listed asset of a dex with its current context.
func (c *Client) MetaAndAssetCtxs(ctx context.Context, dex string) ([]AssetState, error) {
	body := map[string]any{"type": "metaAndAssetCtxs"}
	if dex != "" {
		body["dex"] = dex
	}
	var raw []json.RawMessage
	if err := c.post(ctx, body, &raw); err != nil {
		return nil, err
	}
	return parseMetaAndAssetCtxs(dex, raw)
}

func parseMetaAndAssetCtxs(dex string, raw []json.RawMessage) ([]AssetState, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("metaAndAssetCtxs: expected [meta, contexts], got %d elements", len(raw))
	}
	var meta struct {
		Universe []AssetMeta `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, fmt.Errorf("metaAndAssetCtxs: decode universe: %w", err)
	}
	// contexts are decoded one by one so a single malformed entry does not hide the rest
	var rawCtxs []json.RawMessage
	if err := json.Unmarshal(raw[1], &rawCtxs); err != nil {
		return nil, fmt.Errorf("metaAndAssetCtxs: decode contexts: %w", err)
	}

	out := make([]AssetState, 0, len(meta.Universe))
	for i, asset := range meta.Universe {
		if asset.IsDelisted || asset.Name == "" {
			continue
		}
		state := AssetState{Dex: dex, Coin: asset.Name}
		if i < len(rawCtxs) && !bytes.Equal(bytes.TrimSpace(rawCtxs[i]), []byte("null")) {
			if err := json.Unmarshal(rawCtxs[i], &state.Context); err == nil {
				state.HasContext = true
			}
		}
		out = append(out, state)
	}
	return out, nil
}

// UserFillsByTime returns a user's fills between start and end.
func (c *Client) UserFillsByTime(ctx context.Context, user string, start, end time.Time) ([]Fill, error) {
	body := map[string]any{
		"type":      "userFillsByTime",
		"user":      user,
		"startTime": start.UnixMilli(),
		"endTime":   end.UnixMilli(),
	}
	var fills []Fill
	if err := c.post(ctx, body, &fills); err != nil {
		return nil, err
	}
	return fills, nil
}

// RecentTrades returns the exchange's latest public trades for a coin.
func (c *Client) RecentTrades(ctx context.Context, coin string) ([]WireTrade, error) {
	var trades []WireTrade
	if err := c.post(ctx, map[string]any{"type": "recentTrades", "coin": coin}, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// L2Book returns the aggregated order book of a coin.
func (c *Client) L2Book(ctx context.Context, coin string) (Book, error) {
	var book Book
	if err := c.post(ctx, map[string]any{"type": "l2Book", "coin": coin}, &book); err != nil {
		return Book{}, err
	}
	if book.Coin == "" {
		book.Coin = coin
	}
	return book, nil
}

// DayVolumes returns 24h notional volume per listed coin of a dex.
func (c *Client) DayVolumes(ctx context.Context, dex string) (map[string]float64, error) {
	states, err := c.MetaAndAssetCtxs(ctx, dex)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(states))
	for _, s := range states {
		if s.HasContext {
			out[s.Coin] = s.Context.DayNtlVlm.Float64()
		}
	}
	return out, nil
}

// ListedCoins returns a CoinSource yielding instruments when set, otherwise every listed
// coin of dexes in dex order.
func (c *Client) ListedCoins(dexes, instruments []string) CoinSource {
	return func(ctx context.Context) ([]string, error) {
		if len(instruments) > 0 {
			return instruments, nil
		}
		var coins []string
		for _, dex := range dexes {
			assets, err := c.Meta(ctx, dex)
			if err != nil {
				return nil, fmt.Errorf("list coins of dex %q: %w", dex, err)
			}
			for _, a := range assets {
				coins = append(coins, a.Name)
			}
		}
		return coins, nil
	}
}

// Package poller periodically snapshots market state of every tracked instrument.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/pkg/metrics"
	"github.com/Aidin1998/perpstats/pkg/models"
	"go.uber.org/zap"
)

// StateSource returns the listed assets of a dex with their live contexts.
type StateSource interface {
	MetaAndAssetCtxs(ctx context.Context, dex string) ([]exchange.AssetState, error)
}

// SnapshotSink persists snapshots.
type SnapshotSink interface {
	InsertBatch(ctx context.Context, snaps []models.MarketSnapshot) error
}

// Skip reasons reported in metrics and logs.
const (
	SkipNoContext    = "no_context"
	SkipInvalidPrice = "invalid_price"
	SkipFetchFailed  = "fetch_failed"
)

// BuildSnapshot derives a snapshot from one asset's upstream state. It reports a skip
// reason instead when the context is missing or mark or oracle price is not positive.
// The result depends only on its inputs.
func BuildSnapshot(dex, coin string, state exchange.AssetState, now time.Time) (models.MarketSnapshot, string) {
	if !state.HasContext {
		return models.MarketSnapshot{}, SkipNoContext
	}
	c := state.Context
	mark, oracle := c.MarkPx.Float64(), c.OraclePx.Float64()
	if mark <= 0 || oracle <= 0 {
		return models.MarketSnapshot{}, SkipInvalidPrice
	}
	spread := analytics.SpreadPct(mark, oracle)
	return models.MarketSnapshot{
		Timestamp:       now.UTC(),
		Dex:             dex,
		Coin:            coin,
		MarkPrice:       mark,
		OraclePrice:     oracle,
		OpenInterest:    c.OpenInterest.Float64(),
		OpenInterestUSD: c.OpenInterest.Float64() * mark,
		Volume24h:       c.DayNtlVlm.Float64(),
		FundingRate:     c.Funding.Float64(),
		Premium:         c.Premium.Float64(),
		PrevDayPrice:    c.PrevDayPx.Float64(),
		SpreadPct:       spread,
		TightnessScore:  analytics.TightnessScore(spread),
	}, ""
}

// Poller snapshots every tracked instrument once per interval.
type Poller struct {
	source      StateSource
	sink        SnapshotSink
	dexes       []string
	instruments map[string]struct{}
	interval    time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
}

// New creates a poller over dexes. An empty instruments list tracks every listed coin.
func New(source StateSource, sink SnapshotSink, dexes, instruments []string, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	p := &Poller{
		source:   source,
		sink:     sink,
		dexes:    dexes,
		interval: interval,
		logger:   logger.Named("poller"),
		now:      time.Now,
	}
	if len(instruments) > 0 {
		p.instruments = make(map[string]struct{}, len(instruments))
		for _, c := range instruments {
			p.instruments[c] = struct{}{}
		}
	}
	return p
}

// Start polls immediately and then on every tick until Stop.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop cancels the loop and waits for an in-flight poll to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LastRun returns the time the last poll finished.
func (p *Poller) LastRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.safePoll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) safePoll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poll panicked", zap.Any("panic", r))
		}
	}()
	stored, err := p.PollOnce(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("poll failed", zap.Int("stored", stored), zap.Error(err))
	}
}

// PollOnce fetches every dex once and stores one snapshot per tracked instrument.
// A dex whose fetch fails is skipped; the others are still stored.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	now := p.now()
	var snaps []models.MarketSnapshot
	var failed []string
	for _, dex := range p.dexes {
		states, err := p.source.MetaAndAssetCtxs(ctx, dex)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			metrics.SnapshotsSkipped.WithLabelValues(SkipFetchFailed).Inc()
			p.logger.Warn("market state fetch failed, skipping dex", zap.String("dex", dex), zap.Error(err))
			failed = append(failed, dex)
			continue
		}
		for _, st := range states {
			if !p.tracked(st.Coin) {
				continue
			}
			snap, reason := BuildSnapshot(dex, st.Coin, st, now)
			if reason != "" {
				metrics.SnapshotsSkipped.WithLabelValues(reason).Inc()
				p.logger.Debug("snapshot skipped", zap.String("dex", dex), zap.String("coin", st.Coin), zap.String("reason", reason))
				continue
			}
			snaps = append(snaps, snap)
		}
	}

	if len(snaps) > 0 {
		if err := p.sink.InsertBatch(ctx, snaps); err != nil {
			return 0, fmt.Errorf("store %d snapshots: %w", len(snaps), err)
		}
		for _, s := range snaps {
			metrics.SnapshotsStored.WithLabelValues(s.Dex).Inc()
		}
	}

	p.mu.Lock()
	p.lastRun = p.now()
	p.mu.Unlock()
	p.logger.Debug("poll complete", zap.Int("stored", len(snaps)), zap.Strings("failed_dexes", failed))
	if len(failed) == len(p.dexes) && len(failed) > 0 {
		return 0, fmt.Errorf("every dex fetch failed: %v", failed)
	}
	return len(snaps), nil
}

func (p *Poller) tracked(coin string) bool {
	if p.instruments == nil {
		return true
	}
	_, ok := p.instruments[coin]
	return ok
}

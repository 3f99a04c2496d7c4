package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/perpstats/internal/analytics"
	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/pkg/errors"
	"github.com/Aidin1998/perpstats/pkg/models"
)

// BookSource fetches live order books.
type BookSource interface {
	L2Book(ctx context.Context, coin string) (exchange.Book, error)
}

const (
	depthChartLevels = 50
	healthOracleAge  = time.Hour
)

// DepthReport is the measured book of one coin. Stale is set when the exchange could not
// be reached and the last good book is served instead.
type DepthReport struct {
	Coin      string               `json:"coin"`
	Depth     analytics.Depth      `json:"depth"`
	Chart     analytics.DepthChart `json:"chart"`
	FetchedAt time.Time            `json:"fetched_at"`
	Stale     bool                 `json:"stale"`
}

// Depth returns spread, depth, liquidity and the cumulative chart of a coin's book.
func (s *Service) Depth(ctx context.Context, coin string) (DepthReport, error) {
	coin, err := s.resolveCoin(ctx, coin)
	if err != nil {
		return DepthReport{}, err
	}
	if s.books == nil {
		return DepthReport{}, errors.Unavailable.Explain("order books are not configured")
	}
	return cached(ctx, s, "depth:"+coin, func(ctx context.Context) (DepthReport, error) {
		return s.fetchDepth(ctx, coin)
	})
}

func (s *Service) fetchDepth(ctx context.Context, coin string) (DepthReport, error) {
	book, err := s.books.L2Book(ctx, coin)
	if err == nil {
		if book.Coin == "" {
			book.Coin = coin
		}
		if d, ok := analytics.MarketDepth(book); ok {
			r := DepthReport{
				Coin:      coin,
				Depth:     d,
				Chart:     analytics.DepthChartFrom(book, depthChartLevels),
				FetchedAt: s.now(),
			}
			s.depthMu.Lock()
			s.lastDepth[coin] = r
			s.depthMu.Unlock()
			return r, nil
		}
		err = fmt.Errorf("book of %s has an empty side", coin)
	}

	s.depthMu.Lock()
	last, ok := s.lastDepth[coin]
	s.depthMu.Unlock()
	if ok {
		s.logger.Warn("order book unavailable, serving last good book",
			zap.String("coin", coin), zap.Time("fetched_at", last.FetchedAt), zap.Error(err))
		last.Stale = true
		return last, nil
	}
	return DepthReport{}, errors.Unavailable.Explain("order book of %s unavailable: %s", coin, errors.Brief(err)).Wrap(err)
}

// MarketHealth scores a coin from its oracle tightness over the last hour and the
// liquidity of its book. A missing input counts as a neutral 50.
func (s *Service) MarketHealth(ctx context.Context, coin string) (analytics.MarketHealth, error) {
	coin, err := s.resolveCoin(ctx, coin)
	if err != nil {
		return analytics.MarketHealth{}, err
	}
	return cached(ctx, s, "health:"+coin, func(ctx context.Context) (analytics.MarketHealth, error) {
		history, err := s.snapshots.History(ctx, coin, s.now().Add(-healthOracleAge))
		if err != nil {
			return analytics.MarketHealth{}, storageErr("load oracle history", err)
		}
		var oracle *models.MarketSnapshot
		if n := len(history); n > 0 {
			oracle = &history[n-1]
		}

		var depth *analytics.Depth
		if s.books != nil {
			if r, err := s.fetchDepth(ctx, coin); err == nil {
				depth = &r.Depth
			} else {
				s.logger.Debug("no depth for market health", zap.String("coin", coin), zap.Error(err))
			}
		}
		return analytics.Health(coin, oracle, depth), nil
	})
}

// OracleAnalysis breaks the latest oracle readings down by dex.
func (s *Service) OracleAnalysis(ctx context.Context) (analytics.OracleAnalysisReport, error) {
	return cached(ctx, s, "oracle:analysis", func(ctx context.Context) (analytics.OracleAnalysisReport, error) {
		latest, err := s.latestSnapshots(ctx)
		if err != nil {
			return analytics.OracleAnalysisReport{}, err
		}
		return analytics.OracleAnalysis(latest), nil
	})
}

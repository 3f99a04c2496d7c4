package service

import (
	"context"
	"time"

	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/internal/poller"
	"github.com/Aidin1998/perpstats/pkg/errors"
	"github.com/Aidin1998/perpstats/pkg/models"
)

// TradeWriter stores one trade.
type TradeWriter interface {
	Insert(ctx context.Context, trade *models.Trade) error
}

// SnapshotWriter stores one market snapshot.
type SnapshotWriter interface {
	Insert(ctx context.Context, snap *models.MarketSnapshot) error
}

// stamp returns an ingestion time that never goes backwards across calls.
func (s *Service) stamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	at := s.now().UTC()
	if at.Before(s.lastStamp) {
		at = s.lastStamp
	}
	s.lastStamp = at
	return at
}

// RecordTrade stores a trade pushed by an external collector, in the same form the live
// feed stores it.
func (s *Service) RecordTrade(ctx context.Context, t exchange.WireTrade) (models.Trade, error) {
	if s.tradeWriter == nil {
		return models.Trade{}, errors.Unavailable.Explain("trade ingestion is disabled")
	}
	trade := exchange.ToModel(t, s.stamp())
	if err := s.tradeWriter.Insert(ctx, &trade); err != nil {
		return models.Trade{}, storageErr("store trade", err)
	}
	return trade, nil
}

// RecordSnapshot derives and stores a snapshot from an externally collected asset
// context. An empty dex is taken from the coin prefix.
func (s *Service) RecordSnapshot(ctx context.Context, dex, coin string, c exchange.AssetContext) (models.MarketSnapshot, error) {
	if s.snapWriter == nil {
		return models.MarketSnapshot{}, errors.Unavailable.Explain("snapshot ingestion is disabled")
	}
	if dex == "" {
		dex = models.Dex(coin)
	}
	state := exchange.AssetState{Dex: dex, Coin: coin, Context: c, HasContext: true}
	snap, reason := poller.BuildSnapshot(dex, coin, state, s.now())
	if reason != "" {
		return models.MarketSnapshot{}, errors.Invalid.
			Explain("snapshot of %s rejected", coin).
			WithField(reason, "snapshot", "mark and oracle prices must be positive")
	}
	if err := s.snapWriter.Insert(ctx, &snap); err != nil {
		return models.MarketSnapshot{}, storageErr("store snapshot", err)
	}
	return snap, nil
}

// Package publish fans flushed trade batches out to Kafka for downstream consumers.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/internal/ingest"
	"github.com/Aidin1998/perpstats/pkg/fixed"
	"github.com/Aidin1998/perpstats/pkg/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TradePublisher writes each stored trade to a topic, keyed by coin so that a coin's
// trades stay ordered within one partition.
type TradePublisher struct {
	writer  MessageWriter
	logger  *zap.Logger
	timeout time.Duration
}

// NewTradePublisher creates an asynchronous Kafka writer for cfg.Topic.
func NewTradePublisher(cfg config.KafkaConfig, logger *zap.Logger) (*TradePublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	logger = logger.Named("publish")
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return NewWithWriter(w, logger), nil
}

// NewWithWriter wraps an existing writer.
func NewWithWriter(w MessageWriter, logger *zap.Logger) *TradePublisher {
	return &TradePublisher{writer: w, logger: logger, timeout: 5 * time.Second}
}

// Message is the record published for every trade.
type Message struct {
	Coin       string    `json:"coin"`
	Dex        string    `json:"dex"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Volume     float64   `json:"volume"`
	Side       string    `json:"side"`
	TradeTime  int64     `json:"trade_time"`
	ReceivedAt time.Time `json:"received_at"`
	Wallets    []string  `json:"wallets"`
	Hash       string    `json:"hash,omitempty"`
	TID        int64     `json:"tid,omitempty"`
}

// PublishBatch writes one message per trade.
func (p *TradePublisher) PublishBatch(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		b, err := fixed.Marshal(Message{
			Coin:       t.Coin,
			Dex:        t.Dex(),
			Price:      t.Price,
			Size:       t.Size,
			Volume:     t.Volume,
			Side:       t.Side,
			TradeTime:  t.TradeTime,
			ReceivedAt: t.ReceivedAt,
			Wallets:    t.Wallets(),
			Hash:       t.Hash,
			TID:        t.TID,
		})
		if err != nil {
			return fmt.Errorf("encode trade %s/%d: %w", t.Coin, t.TID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(t.Coin), Value: b, Time: t.ReceivedAt})
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d trades: %w", len(msgs), err)
	}
	return nil
}

// Hook adapts the publisher to the writer's flush hook. Failures are logged only.
func (p *TradePublisher) Hook() ingest.FlushHook {
	return func(ctx context.Context, batch []models.Trade) {
		if err := p.PublishBatch(ctx, batch); err != nil {
			p.logger.Warn("publish batch failed", zap.Int("batch_size", len(batch)), zap.Error(err))
		}
	}
}

func (p *TradePublisher) Close() error { return p.writer.Close() }

// Package ingest moves trades from the websocket producer to storage through an
// unbounded queue drained by a single batching writer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/pkg/metrics"
	"github.com/Aidin1998/perpstats/pkg/models"
	"go.uber.org/zap"
)

// ErrClosed is returned by Enqueue once shutdown has begun.
var ErrClosed = errors.New("ingest: writer closed")

// BatchSink persists one batch atomically.
type BatchSink interface {
	InsertBatch(ctx context.Context, trades []models.Trade) error
}

// FlushHook observes every successfully written batch. Hooks run on the writer goroutine
// and must not block for long.
type FlushHook func(ctx context.Context, batch []models.Trade)

// Stats is a point-in-time view of the writer counters.
type Stats struct {
	Enqueued      int64     `json:"enqueued"`
	Written       int64     `json:"written"`
	Dropped       int64     `json:"dropped"`
	Batches       int64     `json:"batches"`
	FailedBatches int64     `json:"failed_batches"`
	QueueDepth    int       `json:"queue_depth"`
	LastFlush     time.Time `json:"last_flush"`
}

// Writer drains the ingestion queue into the sink, flushing when the batch reaches
// BatchSize or FlushInterval has passed since the previous flush.
type Writer struct {
	sink   BatchSink
	cfg    config.IngestConfig
	logger *zap.Logger
	queue  *Queue[models.Trade]
	hooks  []FlushHook

	enqueued      atomic.Int64
	written       atomic.Int64
	dropped       atomic.Int64
	batches       atomic.Int64
	failedBatches atomic.Int64
	lastFlush     atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

func NewWriter(sink BatchSink, cfg config.IngestConfig, logger *zap.Logger, hooks ...FlushHook) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 100 * time.Millisecond
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Writer{
		sink:   sink,
		cfg:    cfg,
		logger: logger.Named("ingest"),
		queue:  NewQueue[models.Trade](),
		hooks:  hooks,
		done:   make(chan struct{}),
	}
}

// AddHook registers a flush hook. It must be called before Start.
func (w *Writer) AddHook(h FlushHook) {
	w.hooks = append(w.hooks, h)
}

// Enqueue hands a trade to the writer. It never blocks.
func (w *Writer) Enqueue(trade models.Trade) error {
	if !w.queue.Push(trade) {
		return ErrClosed
	}
	w.enqueued.Add(1)
	metrics.TradesEnqueued.Inc()
	metrics.QueueDepth.Set(float64(w.queue.Len()))
	return nil
}

// Start launches the background writer loop.
func (w *Writer) Start() {
	w.startOnce.Do(func() {
		w.logger.Info("trade writer started",
			zap.Int("batch_size", w.cfg.BatchSize),
			zap.Duration("flush_interval", w.cfg.FlushInterval))
		go w.run()
	})
}

// Stop stops accepting trades, drains the queue with final flushes and waits for the
// loop to exit, bounded by ctx and the configured shutdown timeout.
func (w *Writer) Stop(ctx context.Context) error {
	w.stopOnce.Do(w.queue.Close)
	w.startOnce.Do(func() { go w.run() })

	ctx, cancel := context.WithTimeout(ctx, w.cfg.ShutdownTimeout)
	defer cancel()
	select {
	case <-w.done:
		w.logger.Info("trade writer stopped", zap.Int64("written", w.written.Load()), zap.Int64("dropped", w.dropped.Load()))
		return nil
	case <-ctx.Done():
		remaining := w.queue.Len()
		w.logger.Warn("trade writer did not drain before shutdown deadline", zap.Int("remaining", remaining))
		return fmt.Errorf("ingest: shutdown timed out with %d trades queued: %w", remaining, ctx.Err())
	}
}

// Stats returns the writer counters.
func (w *Writer) Stats() Stats {
	s := Stats{
		Enqueued:      w.enqueued.Load(),
		Written:       w.written.Load(),
		Dropped:       w.dropped.Load(),
		Batches:       w.batches.Load(),
		FailedBatches: w.failedBatches.Load(),
		QueueDepth:    w.queue.Len(),
	}
	if ns := w.lastFlush.Load(); ns > 0 {
		s.LastFlush = time.Unix(0, ns).UTC()
	}
	return s
}

// QueueDepth returns the number of trades waiting to be written.
func (w *Writer) QueueDepth() int { return w.queue.Len() }

func (w *Writer) run() {
	defer close(w.done)

	batch := make([]models.Trade, 0, w.cfg.BatchSize)
	lastFlush := time.Now()

	for {
		trade, ok := w.queue.Pop(w.cfg.PollTimeout)
		if ok {
			batch = append(batch, trade)
		} else if w.queue.Closed() {
			if len(batch) > 0 {
				w.flush(batch)
			}
			metrics.QueueDepth.Set(0)
			return
		}

		if len(batch) >= w.cfg.BatchSize || (len(batch) > 0 && time.Since(lastFlush) >= w.cfg.FlushInterval) {
			w.flush(batch)
			batch = make([]models.Trade, 0, w.cfg.BatchSize)
			lastFlush = time.Now()
		}
	}
}

// flush writes one batch, then runs the hooks on it. Write failures are logged and the
// batch is dropped; nothing is redelivered.
func (w *Writer) flush(batch []models.Trade) {
	defer func() {
		if r := recover(); r != nil {
			w.dropped.Add(int64(len(batch)))
			w.failedBatches.Add(1)
			w.logger.Error("panic while writing trades", zap.Any("panic", r), zap.Int("batch_size", len(batch)))
		}
	}()

	ctx := context.Background()
	started := time.Now()
	err := w.sink.InsertBatch(ctx, batch)
	metrics.FlushLatency.Observe(time.Since(started).Seconds())
	metrics.QueueDepth.Set(float64(w.queue.Len()))
	w.lastFlush.Store(time.Now().UnixNano())

	if err != nil {
		w.dropped.Add(int64(len(batch)))
		w.failedBatches.Add(1)
		metrics.BatchesFlushed.WithLabelValues("dropped").Inc()
		metrics.RowsDropped.Add(float64(len(batch)))
		w.logger.Error("dropping trade batch after failed write",
			zap.Int("batch_size", len(batch)),
			zap.Int("queue_depth", w.queue.Len()),
			zap.Error(err))
		return
	}

	w.written.Add(int64(len(batch)))
	w.batches.Add(1)
	metrics.BatchesFlushed.WithLabelValues("written").Inc()
	metrics.RowsWritten.Add(float64(len(batch)))
	w.logger.Debug("flushed trade batch", zap.Int("batch_size", len(batch)))

	for i, hook := range w.hooks {
		w.runHook(ctx, i, hook, batch)
	}
}

// runHook isolates a hook so its panic neither undoes the written count nor skips the
// hooks after it.
func (w *Writer) runHook(ctx context.Context, i int, hook FlushHook, batch []models.Trade) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HookPanics.Inc()
			w.logger.Error("panic in flush hook", zap.Int("hook", i), zap.Any("panic", r), zap.Int("batch_size", len(batch)))
		}
	}()
	hook(ctx, batch)
}

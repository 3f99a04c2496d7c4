package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/internal/database"
	"github.com/Aidin1998/perpstats/internal/store"
	"github.com/Aidin1998/perpstats/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]models.Trade
	fail    error
}

func (s *recordingSink) InsertBatch(_ context.Context, trades []models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.batches = append(s.batches, append([]models.Trade(nil), trades...))
	return nil
}

func (s *recordingSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.batches))
	for i, b := range s.batches {
		out[i] = len(b)
	}
	return out
}

func testConfig() config.IngestConfig {
	return config.IngestConfig{
		BatchSize:       100,
		FlushInterval:   time.Second,
		PollTimeout:     100 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

func makeTrade(i int) models.Trade {
	return models.Trade{Coin: "xyz:TSLA", Price: 1, Size: float64(i + 1), Volume: float64(i + 1), TID: int64(i)}
}

func TestWriterFlushesBySizeThenTime(t *testing.T) {
	sink := &recordingSink{}
	w := NewWriter(sink, testConfig(), zap.NewNop())

	for i := 0; i < 250; i++ {
		require.NoError(t, w.Enqueue(makeTrade(i)))
	}
	w.Start()

	assert.Eventually(t, func() bool { return len(sink.sizes()) == 3 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []int{100, 100, 50}, sink.sizes())

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, []int{100, 100, 50}, sink.sizes(), "stop must not produce an empty flush")
}

func TestWriterPreservesFIFOOrder(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.BatchSize = 7
	w := NewWriter(sink, cfg, zap.NewNop())
	w.Start()

	for i := 0; i < 50; i++ {
		require.NoError(t, w.Enqueue(makeTrade(i)))
	}
	require.NoError(t, w.Stop(context.Background()))

	var tids []int64
	for _, b := range sink.batches {
		for _, tr := range b {
			tids = append(tids, tr.TID)
		}
	}
	require.Len(t, tids, 50)
	for i, tid := range tids {
		assert.EqualValues(t, i, tid)
	}
}

func TestWriterStopDrainsQueue(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.FlushInterval = time.Hour
	w := NewWriter(sink, cfg, zap.NewNop())
	w.Start()

	for i := 0; i < 30; i++ {
		require.NoError(t, w.Enqueue(makeTrade(i)))
	}
	require.NoError(t, w.Stop(context.Background()))

	assert.Equal(t, []int{30}, sink.sizes())
	assert.ErrorIs(t, w.Enqueue(makeTrade(99)), ErrClosed)

	stats := w.Stats()
	assert.EqualValues(t, 30, stats.Enqueued)
	assert.EqualValues(t, 30, stats.Written)
	assert.Zero(t, stats.QueueDepth)
}

func TestWriterDropsFailedBatchAndContinues(t *testing.T) {
	sink := &recordingSink{fail: errors.New("disk I/O error")}
	cfg := testConfig()
	cfg.BatchSize = 10
	var hooked int
	w := NewWriter(sink, cfg, zap.NewNop(), func(_ context.Context, b []models.Trade) { hooked += len(b) })
	w.Start()

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Enqueue(makeTrade(i)))
	}
	assert.Eventually(t, func() bool { return w.Stats().Dropped == 10 }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Enqueue(makeTrade(i)))
	}
	require.NoError(t, w.Stop(context.Background()))

	stats := w.Stats()
	assert.EqualValues(t, 10, stats.Written)
	assert.EqualValues(t, 1, stats.FailedBatches)
	assert.Equal(t, 10, hooked, "hooks only see written batches")
}

func TestWriterStopTimesOut(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	sink := blockingSink{block: block}
	cfg := testConfig()
	cfg.BatchSize = 1
	cfg.ShutdownTimeout = 50 * time.Millisecond
	w := NewWriter(sink, cfg, zap.NewNop())
	w.Start()
	require.NoError(t, w.Enqueue(makeTrade(0)))
	require.NoError(t, w.Enqueue(makeTrade(1)))

	err := w.Stop(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingSink struct{ block chan struct{} }

func (b blockingSink) InsertBatch(context.Context, []models.Trade) error {
	<-b.block
	return nil
}

func TestWriterRowsMatchDequeuedAgainstSQLite(t *testing.T) {
	db := database.NewTestDB(t)
	trades := store.NewTradeStore(db, database.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})
	cfg := testConfig()
	cfg.BatchSize = 64
	w := NewWriter(trades, cfg, zap.NewNop())
	w.Start()

	for i := 0; i < 300; i++ {
		tr := makeTrade(i)
		tr.Coin = fmt.Sprintf("xyz:C%d", i%3)
		tr.ReceivedAt = time.Now().UTC()
		require.NoError(t, w.Enqueue(tr))
	}
	require.NoError(t, w.Stop(context.Background()))

	n, err := trades.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 300, n)
	assert.EqualValues(t, 300, w.Stats().Written)
}

func TestWriterHookPanicKeepsBatchWritten(t *testing.T) {
	sink := &recordingSink{}
	cfg := testConfig()
	cfg.BatchSize = 5
	var mu sync.Mutex
	var later int
	w := NewWriter(sink, cfg, zap.NewNop(),
		func(context.Context, []models.Trade) { panic("publisher exploded") },
		func(_ context.Context, b []models.Trade) {
			mu.Lock()
			later += len(b)
			mu.Unlock()
		},
	)
	w.Start()
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Enqueue(makeTrade(i)))
	}
	require.NoError(t, w.Stop(context.Background()))

	stats := w.Stats()
	assert.EqualValues(t, 10, stats.Written)
	assert.Zero(t, stats.Dropped)
	assert.Zero(t, stats.FailedBatches)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, later, "hooks after a panicking one still run")
}

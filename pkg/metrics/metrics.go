package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Ingestion pipeline metrics
var (
	TradesEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perpstats_ingest_trades_enqueued_total",
			Help: "Trades accepted onto the ingestion queue",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpstats_ingest_queue_depth",
			Help: "Trades waiting in the ingestion queue",
		},
	)

	BatchesFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpstats_ingest_batches_total",
			Help: "Flushed trade batches by outcome (written, dropped)",
		},
		[]string{"outcome"},
	)

	RowsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perpstats_ingest_rows_written_total",
			Help: "Trade rows committed by the batch writer",
		},
	)

	RowsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perpstats_ingest_rows_dropped_total",
			Help: "Trade rows discarded after a failed flush",
		},
	)

	HookPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perpstats_ingest_hook_panics_total",
			Help: "Flush hooks that panicked after a batch was written",
		},
	)

	FlushLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "perpstats_ingest_flush_seconds",
			Help:    "Latency of one batch flush including retries",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Storage metrics
var (
	WriteRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpstats_db_write_retries_total",
			Help: "Writes retried after the database reported busy or locked",
		},
		[]string{"op"},
	)

	WriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpstats_db_write_failures_total",
			Help: "Writes that failed after the retry policy gave up",
		},
		[]string{"op"},
	)

	RowsSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpstats_retention_rows_deleted_total",
			Help: "Rows removed by the retention sweeper",
		},
		[]string{"table"},
	)

	StatsRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpstats_stats_refreshes_total",
			Help: "Summary statistics refreshes by outcome",
		},
		[]string{"outcome"},
	)
)

// Upstream metrics
var (
	SnapshotsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpstats_snapshots_stored_total",
			Help: "Market snapshots persisted by dex",
		},
		[]string{"dex"},
	)

	SnapshotsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpstats_snapshots_skipped_total",
			Help: "Instruments skipped during a poll by reason",
		},
		[]string{"reason"},
	)

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perpstats_upstream_request_seconds",
			Help:    "Latency of info endpoint requests by request type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	UpstreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpstats_upstream_errors_total",
			Help: "Failed info endpoint requests by request type",
		},
		[]string{"type"},
	)

	StreamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perpstats_stream_reconnects_total",
			Help: "Reconnect attempts of the trades websocket",
		},
	)

	StreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpstats_stream_messages_total",
			Help: "Websocket messages received by channel",
		},
		[]string{"channel"},
	)
)

func init() {
	prometheus.MustRegister(TradesEnqueued, QueueDepth, BatchesFlushed, RowsWritten, RowsDropped, HookPanics, FlushLatency)
	prometheus.MustRegister(WriteRetries, WriteFailures, RowsSwept, StatsRefreshes)
	prometheus.MustRegister(SnapshotsStored, SnapshotsSkipped, UpstreamLatency, UpstreamErrors, StreamReconnects, StreamMessages)
}

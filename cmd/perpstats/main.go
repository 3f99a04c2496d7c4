package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Aidin1998/perpstats/api"
	"github.com/Aidin1998/perpstats/internal/cache"
	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/internal/database"
	"github.com/Aidin1998/perpstats/internal/exchange"
	"github.com/Aidin1998/perpstats/internal/feed"
	"github.com/Aidin1998/perpstats/internal/ingest"
	"github.com/Aidin1998/perpstats/internal/maintenance"
	"github.com/Aidin1998/perpstats/internal/poller"
	"github.com/Aidin1998/perpstats/internal/publish"
	"github.com/Aidin1998/perpstats/internal/service"
	"github.com/Aidin1998/perpstats/internal/store"
	"github.com/Aidin1998/perpstats/internal/telemetry"
	"github.com/Aidin1998/perpstats/internal/ws"
	"github.com/Aidin1998/perpstats/pkg/logger"
)

const hubReplay = 100

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	if err := run(cfg, zapLogger); err != nil {
		zapLogger.Fatal("perpstats stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database, zapLogger)
	if err != nil {
		return err
	}
	defer database.Close(db)
	if err := database.Migrate(db); err != nil {
		return err
	}

	reads, err := database.OpenReadPool(cfg.Database, zapLogger)
	if err != nil {
		return err
	}
	if reads != nil {
		defer database.Close(reads)
	}

	policy := database.NewRetryPolicy(cfg.Database)
	trades := store.NewTradeStore(db, policy).WithReader(reads)
	snapshots := store.NewSnapshotStore(db, policy).WithReader(reads)
	stats := store.NewStatsStore(db, policy).WithReader(reads)

	// Ingestion: subscriber -> collector -> writer -> trade store
	refresher := maintenance.NewRefresher(stats, cfg.Stats, zapLogger)
	writer := ingest.NewWriter(trades, cfg.Ingest, zapLogger, refresher.Hook())
	var publisher *publish.TradePublisher
	if cfg.Kafka.Enabled {
		publisher, err = publish.NewTradePublisher(cfg.Kafka, zapLogger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		writer.AddHook(publisher.Hook())
	}

	hub := ws.NewHub(hubReplay, zapLogger)
	recent := ingest.NewRecent(cfg.Ingest.RecentPerCoin)
	collector := feed.NewCollector(writer, recent, hub, zapLogger)
	client := exchange.NewClient(cfg.Exchange, zapLogger)
	subscriber := exchange.NewSubscriber(cfg.Exchange, client.ListedCoins(cfg.Exchange.Dexes, cfg.Exchange.Instruments), collector, zapLogger)

	sweeper := maintenance.NewSweeper(trades, snapshots, cfg.Retention, zapLogger)
	var snapshotPoller *poller.Poller
	if cfg.Poller.Enabled {
		snapshotPoller = poller.New(client, snapshots, cfg.Exchange.Dexes, cfg.Exchange.Instruments, cfg.Poller.Interval, zapLogger)
	}

	responseCache, err := cache.New(cfg.Cache, zapLogger)
	if err != nil {
		return err
	}
	defer responseCache.Close()

	svc, err := service.New(service.Deps{
		Trades:         trades,
		Snapshots:      snapshots,
		Stats:          stats,
		Live:           recent,
		Feed:           collector,
		Writer:         writer,
		Books:          client,
		TradeWriter:    trades,
		SnapshotWriter: snapshots,
		Cache:          responseCache,
		CacheTTL:       cfg.Cache.TTL,
		Logger:         zapLogger,
	})
	if err != nil {
		return err
	}
	server, err := api.NewServer(api.Options{
		Config:      cfg.Server,
		Service:     svc,
		Hub:         hub,
		Health:      func(ctx context.Context) error { return database.Ping(ctx, db) },
		Logger:      zapLogger,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}

	// Start background components
	writer.Start()
	refresher.Start()
	sweeper.Start()
	if snapshotPoller != nil {
		snapshotPoller.Start()
	}
	streamCtx, cancelStream := context.WithCancel(ctx)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		if err := subscriber.Run(streamCtx); err != nil && !errors.Is(err, context.Canceled) {
			zapLogger.Error("trade stream stopped", zap.Error(err))
		}
	}()

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		zapLogger.Info("Shutting down")
	case err = <-serverErr:
		zapLogger.Error("API server failed", zap.Error(err))
	}

	// Producers stop before the writer drains.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		zapLogger.Warn("API server shutdown", zap.Error(shutdownErr))
	}
	cancelStream()
	<-streamDone
	if snapshotPoller != nil {
		snapshotPoller.Stop()
	}
	sweeper.Stop()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Ingest.ShutdownTimeout)
	defer cancelDrain()
	if drainErr := writer.Stop(drainCtx); drainErr != nil {
		zapLogger.Warn("trade writer did not drain", zap.Error(drainErr), zap.Int("queue_depth", writer.QueueDepth()))
	}
	refresher.Stop()

	traceCtx, cancelTrace := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTrace()
	if traceErr := shutdownTracing(traceCtx); traceErr != nil {
		zapLogger.Warn("tracer shutdown", zap.Error(traceErr))
	}
	zapLogger.Info("Shutdown complete", zap.Any("writer", writer.Stats()))
	return err
}

// Package database opens the storage engine and provides the shared write retry policy.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/pkg/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the configured database and applies pool settings.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(SQLiteDSN(cfg.DSN, cfg.BusyTimeout))
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if cfg.Driver == "sqlite" && maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("database connected", zap.String("driver", cfg.Driver))
	return db, nil
}

// SQLiteDSN appends WAL journaling and the busy timeout to a sqlite DSN unless already present.
func SQLiteDSN(dsn string, busyTimeout time.Duration) string {
	var params []string
	if !strings.Contains(dsn, "_journal_mode") && !inMemory(dsn) {
		params = append(params, "_journal_mode=WAL")
	}
	if busyTimeout > 0 && !strings.Contains(dsn, "_busy_timeout") {
		params = append(params, fmt.Sprintf("_busy_timeout=%d", busyTimeout.Milliseconds()))
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func inMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// OpenReadPool opens a query-only sqlite pool next to the single writer connection, so
// reads run alongside a write under WAL instead of queueing behind it. It returns nil for
// postgres, in-memory databases and a ReadMaxOpenConns of zero; stores then read through
// the write pool.
func OpenReadPool(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	if cfg.Driver != "sqlite" || cfg.ReadMaxOpenConns <= 0 || inMemory(cfg.DSN) {
		return nil, nil
	}
	dsn := SQLiteDSN(cfg.DSN, cfg.BusyTimeout)
	if !strings.Contains(dsn, "_query_only") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_query_only=1"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get read pool instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.ReadMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.ReadMaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping read pool: %w", err)
	}

	log.Info("database read pool opened", zap.Int("max_open_conns", cfg.ReadMaxOpenConns))
	return db, nil
}

// Migrate creates or updates the trades, market_snapshots and trade_stats tables and their indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Trade{}, &models.MarketSnapshot{}, &models.SummaryStats{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database answers.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

package database

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Aidin1998/perpstats/internal/config"
	"github.com/Aidin1998/perpstats/pkg/metrics"
	"github.com/jackc/pgx/v5/pgconn"
)

// IsBusy reports whether err is transient storage contention: sqlite busy/locked,
// or a postgres serialization failure, deadlock or lock timeout.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database is busy")
}

// RetryPolicy is the single write policy used by every insert path:
// bounded retries with jittered exponential backoff on busy errors, no retry on anything else.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	sleep func(context.Context, time.Duration) error
}

// NewRetryPolicy builds the policy from database configuration.
func NewRetryPolicy(cfg config.DatabaseConfig) RetryPolicy {
	return RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
}

// Do runs fn until it succeeds, fails with a non-busy error, the attempts are exhausted
// or ctx is done. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(context.Context) error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if !IsBusy(err) || attempt == attempts {
			metrics.WriteFailures.WithLabelValues(op).Inc()
			return attempt, err
		}
		metrics.WriteRetries.WithLabelValues(op).Inc()
		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			metrics.WriteFailures.WithLabelValues(op).Inc()
			return attempt, errors.Join(err, serr)
		}
	}
	return attempts, err
}

// Backoff returns the full-jitter delay before the retry following attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	ceiling := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (ceiling > p.MaxDelay || ceiling <= 0) {
		ceiling = p.MaxDelay
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

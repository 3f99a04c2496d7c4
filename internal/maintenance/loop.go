// Package maintenance runs the periodic housekeeping jobs: summary statistics refresh
// and age-based retention sweeps.
package maintenance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// loop runs job on every tick and whenever kick is signalled, until stopped.
type loop struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	job      func(ctx context.Context)
	kick     chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newLoop(name string, interval time.Duration, logger *zap.Logger, job func(ctx context.Context)) *loop {
	return &loop{name: name, interval: interval, logger: logger, job: job, kick: make(chan struct{}, 1)}
}

func (l *loop) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

func (l *loop) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// trigger requests an extra run; it never blocks and coalesces pending requests.
func (l *loop) trigger() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.kick:
		}
		l.safeRun(ctx)
	}
}

func (l *loop) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job panicked", zap.String("job", l.name), zap.Any("panic", r))
		}
	}()
	l.job(ctx)
}

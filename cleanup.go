package authcore

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/refresh"
	"go.uber.org/zap"
)

// Sweep runs one cleanup pass over refresh records, deleting only those
// already past expiry. Families left with no records are dropped.
func (e *Engine) Sweep(ctx context.Context) (refresh.SweepStats, error) {
	if e == nil || e.refreshStore == nil {
		return refresh.SweepStats{}, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "authcore.Sweep")
	stats, err := e.refreshStore.Sweep(ctx, e.now(), e.config.Cleanup.BatchSize)
	endSpan(span, err)
	if e.metrics != nil && stats.Deleted > 0 {
		e.metrics.Add(MetricCleanupDeleted, uint64(stats.Deleted))
	}
	if err != nil {
		return stats, infra(err)
	}
	return stats, nil
}

// Sweeper calls Engine.Sweep every interval until stopped.
type Sweeper struct {
	engine   *Engine
	interval time.Duration

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSweeper returns a Sweeper using the engine's Cleanup.Interval. It
// returns nil when the interval is zero.
func (e *Engine) NewSweeper() *Sweeper {
	if e == nil || e.config.Cleanup.Interval <= 0 {
		return nil
	}
	return &Sweeper{
		engine:   e,
		interval: e.config.Cleanup.Interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks, sweeping on each tick, until ctx is cancelled or Stop is
// called.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			stats, err := s.engine.Sweep(ctx)
			if err != nil {
				s.engine.logger.Warn("refresh sweep failed", zap.Error(err))
				continue
			}
			if stats.Deleted > 0 {
				s.engine.logger.Info("refresh sweep",
					zap.Int("scanned", stats.Scanned),
					zap.Int("deleted", stats.Deleted),
					zap.Int("expired_unused", stats.ExpiredUnused),
					zap.Int("families_dropped", stats.FamiliesDropped),
				)
			}
		}
	}
}

// Stop ends Run and waits for it to return. Stop must only be called once
// Run has been started.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

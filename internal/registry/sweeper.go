package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sweepTimeout bounds a single pass so a stuck store cannot pile up ticks.
const sweepTimeout = 30 * time.Second

// Sweeper is a background worker that runs Registry.Sweep on a fixed interval.
type Sweeper struct {
	registry *Registry
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper; a non-positive interval uses DefaultSweepInterval.
func NewSweeper(reg *Registry, logger *zap.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		registry: reg,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (w *Sweeper) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("assignment sweeper started",
		zap.Duration("interval", w.interval),
		zap.Duration("expiry", w.registry.Expiry()))
}

// Stop signals the worker to stop and waits for it to finish. Safe to call twice.
func (w *Sweeper) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.log.Info("assignment sweeper stopped")
	})
}

func (w *Sweeper) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	removed, err := w.registry.Sweep(ctx)
	if err != nil {
		w.log.Error("failed to sweep expired assignments", zap.Error(err))
		return
	}

	if removed > 0 {
		w.log.Info("swept expired assignments", zap.Int64("count", removed))
	}
}

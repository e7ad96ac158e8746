package emoji

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrRefresherRunning = errors.New("emoji refresher already running")

// Refresher runs Manager.RefreshAll over Source once at start and then every
// Interval until stopped.
type Refresher struct {
	Manager  *Manager
	Source   InventorySource
	Interval time.Duration
	// ErrorDelay is the wait before retrying after Source fails.
	ErrorDelay time.Duration
	Logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *Refresher) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// RunOnce performs a single refresh cycle.
func (r *Refresher) RunOnce(ctx context.Context) (RefreshStats, error) {
	inv, err := r.Source.Inventory(ctx)
	if err != nil {
		return RefreshStats{}, err
	}
	stats := r.Manager.RefreshAll(ctx, inv)
	if ctx.Err() == nil {
		r.Manager.Metrics.RefreshCycle()
	}
	return stats, nil
}

// Run blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultConfig().RefreshInterval
	}
	errorDelay := r.ErrorDelay
	if errorDelay <= 0 || errorDelay > interval {
		errorDelay = min(time.Minute, interval)
	}
	log := r.logger()
	log.Info("emoji_refresher_started", "interval", interval.String())
	defer log.Info("emoji_refresher_stopped")

	for {
		wait := interval
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn("emoji_inventory_failed", "error", err.Error())
			wait = errorDelay
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Start launches Run in a goroutine. Stop ends it.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return ErrRefresherRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for the current key to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

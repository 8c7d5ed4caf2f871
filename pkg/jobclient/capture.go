package jobclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"pose-relay/pkg/logger"
)

// DefaultCaptureInterval is the fixed period between live analyze calls
const DefaultCaptureInterval = 333 * time.Millisecond

// AnalyzeFunc performs one lightweight frame-analysis round-trip
type AnalyzeFunc func(ctx context.Context) error

// CaptureDriver runs a periodic live-capture analyze loop. A tick is
// skipped entirely while the previous call is still in flight, so a slow
// backend sees at most one outstanding request from this driver at any
// instant instead of an unbounded pile-up.
type CaptureDriver struct {
	interval time.Duration
	analyze  AnalyzeFunc

	inFlight atomic.Bool
	skipped  atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCaptureDriver creates a driver calling analyze on the given period.
// interval <= 0 selects DefaultCaptureInterval.
func NewCaptureDriver(interval time.Duration, analyze AnalyzeFunc) *CaptureDriver {
	if interval <= 0 {
		interval = DefaultCaptureInterval
	}
	return &CaptureDriver{
		interval: interval,
		analyze:  analyze,
	}
}

// Start begins ticking. Calling Start while running restarts the loop.
func (d *CaptureDriver) Start(ctx context.Context) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	go d.loop(loopCtx)
}

// Stop halts the loop. Idempotent: safe to call when already stopped.
func (d *CaptureDriver) Stop() {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
}

// SkippedTicks reports how many ticks were dropped by the in-flight guard
func (d *CaptureDriver) SkippedTicks() int64 {
	return d.skipped.Load()
}

func (d *CaptureDriver) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.inFlight.CompareAndSwap(false, true) {
				d.skipped.Inc()
				continue
			}
			go func() {
				defer d.inFlight.Store(false)
				if err := d.analyze(ctx); err != nil && ctx.Err() == nil {
					logger.Debug("Live capture analyze failed: %v", err)
				}
			}()
		}
	}
}

package blobsink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"pose-relay/internal/metrics"
	"pose-relay/pkg/logger"
)

// Uploader is the single call the dispatcher needs from a sink.
// Tests substitute a fake to observe whether persistence was attempted.
type Uploader interface {
	Put(ctx context.Context, data []byte, contentType, originalName string) (string, error)
}

// Dispatcher runs advisory sink uploads as fire-and-forget goroutines with
// a concurrency cap. The relay's response path never waits on it: Submit
// returns immediately, and an upload failure is logged and counted but
// never surfaced to the HTTP caller.
type Dispatcher struct {
	uploader      Uploader
	tokens        chan struct{}
	uploadTimeout time.Duration

	wg              sync.WaitGroup
	startOnce       sync.Once
	stopOnce        sync.Once
	stopped         atomic.Bool
	shutdownTimeout time.Duration
}

// NewDispatcher creates a Dispatcher around the given uploader.
// maxConcurrent bounds simultaneous uploads; uploadTimeout bounds each one.
func NewDispatcher(uploader Uploader, maxConcurrent int, uploadTimeout, shutdownTimeout time.Duration) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Dispatcher{
		uploader:        uploader,
		tokens:          make(chan struct{}, maxConcurrent),
		uploadTimeout:   uploadTimeout,
		shutdownTimeout: shutdownTimeout,
	}
}

func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		logger.Info("Sink dispatcher started (maxConcurrent=%d)", cap(d.tokens))
	})
}

// Stop waits for in-flight uploads up to the shutdown timeout.
// New submissions after Stop are dropped silently; persistence is advisory
// and the server is already draining.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		logger.Info("Stopping sink dispatcher: waiting for in-flight uploads")

		done := make(chan struct{})
		go func() {
			defer close(done)
			d.wg.Wait()
		}()

		select {
		case <-done:
			logger.Info("Sink dispatcher stopped: all uploads finished")
		case <-time.After(d.shutdownTimeout):
			logger.Warn("Sink dispatcher stop timed out after %v", d.shutdownTimeout)
		}
	})
}

// Submit schedules one advisory upload and returns immediately.
// The data slice must not be mutated by the caller afterwards.
func (d *Dispatcher) Submit(data []byte, contentType, originalName string) {
	if d.stopped.Load() {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		d.tokens <- struct{}{} // acquire; blocks when at max concurrency
		defer func() { <-d.tokens }()

		metrics.SinkInFlightGauge.Inc()
		defer metrics.SinkInFlightGauge.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), d.uploadTimeout)
		defer cancel()

		name, err := d.uploader.Put(ctx, data, contentType, originalName)
		if err != nil {
			// Advisory: log and count, never propagate.
			logger.Warn("Sink upload failed for %q: %v", originalName, err)
			metrics.SinkFailuresCounter.Inc()
			return
		}
		logger.Debug("Sink upload stored %q as %q (%d bytes)", originalName, name, len(data))
		metrics.SinkUploadsCounter.Inc()
	}()
}

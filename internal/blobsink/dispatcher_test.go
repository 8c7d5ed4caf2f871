package blobsink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeUploader records Put calls and fails on demand
type fakeUploader struct {
	mu      sync.Mutex
	calls   int
	names   []string
	delay   time.Duration
	failErr error

	inFlight    int32
	maxInFlight int32
}

func (f *fakeUploader) Put(ctx context.Context, data []byte, contentType, originalName string) (string, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	f.calls++
	f.names = append(f.names, originalName)
	if cur > f.maxInFlight {
		f.maxInFlight = cur
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failErr != nil {
		return "", f.failErr
	}
	return "stored_" + originalName, nil
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TestDispatcher_Submit_ReturnsImmediately verifies the caller never waits
// on a slow upload
func TestDispatcher_Submit_ReturnsImmediately(t *testing.T) {
	up := &fakeUploader{delay: 300 * time.Millisecond}
	d := NewDispatcher(up, 2, time.Second, time.Second)
	d.Start()
	defer d.Stop()

	start := time.Now()
	d.Submit([]byte("video-bytes"), "video/mp4", "clip.mp4")
	elapsed := time.Since(start)

	if elapsed > 50*time.Millisecond {
		t.Errorf("Submit blocked for %v, expected immediate return", elapsed)
	}
}

// TestDispatcher_UploadFailure_IsSwallowed verifies a failing sink never
// panics or propagates; the upload is simply counted and dropped
func TestDispatcher_UploadFailure_IsSwallowed(t *testing.T) {
	up := &fakeUploader{failErr: errors.New("bucket gone")}
	d := NewDispatcher(up, 2, time.Second, time.Second)
	d.Start()

	d.Submit([]byte("data"), "video/mp4", "clip.mp4")
	d.Stop() // drains the in-flight upload

	if got := up.callCount(); got != 1 {
		t.Errorf("expected 1 upload attempt, got %d", got)
	}
}

// TestDispatcher_BoundedConcurrency verifies uploads never exceed the cap
func TestDispatcher_BoundedConcurrency(t *testing.T) {
	up := &fakeUploader{delay: 50 * time.Millisecond}
	d := NewDispatcher(up, 2, time.Second, 5*time.Second)
	d.Start()

	for i := 0; i < 8; i++ {
		d.Submit([]byte("data"), "video/mp4", "clip.mp4")
	}
	d.Stop()

	up.mu.Lock()
	max := up.maxInFlight
	up.mu.Unlock()
	if max > 2 {
		t.Errorf("expected at most 2 concurrent uploads, observed %d", max)
	}
	if got := up.callCount(); got != 8 {
		t.Errorf("expected all 8 uploads attempted before stop, got %d", got)
	}
}

// TestDispatcher_SubmitAfterStop_IsDropped verifies the dispatcher goes
// quiet once stopped
func TestDispatcher_SubmitAfterStop_IsDropped(t *testing.T) {
	up := &fakeUploader{}
	d := NewDispatcher(up, 2, time.Second, time.Second)
	d.Start()
	d.Stop()

	d.Submit([]byte("data"), "video/mp4", "late.mp4")
	time.Sleep(50 * time.Millisecond)

	if got := up.callCount(); got != 0 {
		t.Errorf("expected no uploads after Stop, got %d", got)
	}
}

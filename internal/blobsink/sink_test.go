package blobsink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// TestSink_EnsureReady_ConcurrentFirstUse_BuildsOnce verifies concurrent
// first use collapses into a single client construction and every caller
// gets the same client
func TestSink_EnsureReady_ConcurrentFirstUse_BuildsOnce(t *testing.T) {
	var builds int32
	s := NewSink("eu-central-1", "fall-clips", "auto", "")
	s.newClient = func(ctx context.Context) (*s3.Client, error) {
		atomic.AddInt32(&builds, 1)
		return s3.NewFromConfig(aws.Config{}), nil
	}

	const workers = 16
	clients := make([]*s3.Client, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clients[i], errs[i] = s.ensureReady(context.Background())
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Errorf("expected exactly 1 client construction, got %d", got)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d got error: %v", i, errs[i])
		}
		if clients[i] == nil {
			t.Fatalf("caller %d got nil client", i)
		}
		if clients[i] != clients[0] {
			t.Errorf("caller %d got a different client instance", i)
		}
	}
}

// TestSink_EnsureReady_FailedInit_IsRetried verifies a failed construction
// is not cached: the next call tries again and can succeed
func TestSink_EnsureReady_FailedInit_IsRetried(t *testing.T) {
	var attempts int32
	s := NewSink("eu-central-1", "fall-clips", "env", "")
	s.newClient = func(ctx context.Context) (*s3.Client, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, errors.New("no credentials in environment")
		}
		return s3.NewFromConfig(aws.Config{}), nil
	}

	if _, err := s.ensureReady(context.Background()); err == nil {
		t.Fatal("expected the first construction to fail")
	}
	client, err := s.ensureReady(context.Background())
	if err != nil {
		t.Fatalf("expected the retry to succeed, got %v", err)
	}
	if client == nil {
		t.Fatal("expected a client from the retry")
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("expected 2 construction attempts, got %d", got)
	}
}

// TestSink_EnsureReady_LaterCalls_SkipConstruction verifies the cached
// client is reused without touching the constructor again
func TestSink_EnsureReady_LaterCalls_SkipConstruction(t *testing.T) {
	var builds int32
	s := NewSink("eu-central-1", "fall-clips", "auto", "")
	s.newClient = func(ctx context.Context) (*s3.Client, error) {
		atomic.AddInt32(&builds, 1)
		return s3.NewFromConfig(aws.Config{}), nil
	}

	for i := 0; i < 5; i++ {
		if _, err := s.ensureReady(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Errorf("expected a single construction across sequential calls, got %d", got)
	}
}

package blobsink

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"pose-relay/pkg/logger"
)

// Sink persists raw upload bytes to a named bucket. The SDK client is
// constructed lazily on first use because credential resolution is
// comparatively expensive and most requests never opt into persistence.
// Once built, the client lives for the rest of the process.
type Sink struct {
	region   string
	bucket   string
	authMode string
	profile  string

	// newClient builds the SDK client; tests substitute it.
	newClient func(ctx context.Context) (*s3.Client, error)

	init   singleflight.Group
	client atomic.Value // *s3.Client
}

// NewSink creates a Sink for the given bucket. Nothing is resolved or
// dialed until the first Put.
//
// authMode selects how credentials are obtained: "auto" walks the SDK's
// default provider chain (environment, shared config, instance metadata,
// in that order), "env" expects environment credentials to be present, and
// "profile" pins a named shared-config profile.
func NewSink(region, bucket, authMode, profile string) *Sink {
	s := &Sink{
		region:   region,
		bucket:   bucket,
		authMode: authMode,
		profile:  profile,
	}
	s.newClient = s.buildClient
	return s
}

// Put generates an object name for the upload and issues a single blocking
// PutObject. The returned error is the caller's to classify; this layer
// does not retry or swallow anything.
func (s *Sink) Put(ctx context.Context, data []byte, contentType, originalName string) (string, error) {
	if s.bucket == "" {
		return "", fmt.Errorf("no storage bucket configured")
	}

	client, err := s.ensureReady(ctx)
	if err != nil {
		return "", fmt.Errorf("sink not ready: %w", err)
	}

	name := ObjectName(time.Now(), originalName)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", name, err)
	}
	return name, nil
}

// ensureReady returns the process-wide client, building it on first call.
// Concurrent first use is collapsed into one construction (first caller
// wins); a failed construction is not cached, so a later request may try
// again once the environment is fixed.
func (s *Sink) ensureReady(ctx context.Context) (*s3.Client, error) {
	if c, ok := s.client.Load().(*s3.Client); ok && c != nil {
		return c, nil
	}

	v, err, _ := s.init.Do("client", func() (interface{}, error) {
		if c, ok := s.client.Load().(*s3.Client); ok && c != nil {
			return c, nil
		}

		client, err := s.newClient(ctx)
		if err != nil {
			return nil, err
		}
		s.client.Store(client)
		logger.Info("Blob sink initialized: bucket=%s auth_mode=%s", s.bucket, s.authMode)
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*s3.Client), nil
}

// buildClient resolves credentials and constructs the SDK client
func (s *Sink) buildClient(ctx context.Context) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if s.region != "" {
		opts = append(opts, awsconfig.WithRegion(s.region))
	}
	switch s.authMode {
	case "profile":
		opts = append(opts, awsconfig.WithSharedConfigProfile(s.profile))
	case "env", "auto", "":
		// default provider chain; environment credentials are tried first
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials (mode=%s): %w", s.authMode, err)
	}
	return s3.NewFromConfig(cfg), nil
}

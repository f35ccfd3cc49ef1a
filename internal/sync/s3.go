package sync

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures an S3Destination.
type S3Options struct {
	Bucket string
	// Key is the object that always holds the latest snapshot.
	Key    string
	Region string
	// Endpoint overrides the AWS endpoint and enables path-style addressing
	// (for MinIO and similar).
	Endpoint string
	// KeepHistory additionally stores every snapshot under a timestamped
	// key next to Key.
	KeepHistory bool
}

// S3Destination writes JSONL snapshots to an S3-compatible bucket.
type S3Destination struct {
	client  *s3.Client
	opts    S3Options
	nowFunc func() time.Time
}

// NewS3Destination creates an S3 destination from the default AWS credential
// chain.
func NewS3Destination(ctx context.Context, opts S3Options) (*S3Destination, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 destination: bucket is required")
	}
	if opts.Key == "" {
		opts.Key = "splitvault/snapshot.jsonl"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Destination{
		client:  s3.NewFromConfig(cfg, s3opts...),
		opts:    opts,
		nowFunc: time.Now,
	}, nil
}

// String names the destination in logs.
func (d *S3Destination) String() string {
	return "s3://" + d.opts.Bucket + "/" + d.opts.Key
}

// Write uploads data to every key returned by objectKeys.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	for _, key := range objectKeys(d.opts, d.nowFunc()) {
		_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(d.opts.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return fmt.Errorf("s3 put object %s: %w", key, err)
		}
	}
	return nil
}

// objectKeys returns the latest-snapshot key, followed by the history key
// when history is kept. "a/snapshot.jsonl" archives to
// "a/snapshot/20260102T150405Z.jsonl".
func objectKeys(opts S3Options, now time.Time) []string {
	keys := []string{opts.Key}
	if !opts.KeepHistory {
		return keys
	}
	ext := path.Ext(opts.Key)
	base := strings.TrimSuffix(opts.Key, ext)
	if ext == "" {
		ext = ".jsonl"
	}
	return append(keys, base+"/"+now.UTC().Format("20060102T150405Z")+ext)
}

// Package s3blob stores ticket metadata documents and ledger archives in any
// S3-compatible object store (AWS, MinIO, R2, iDrive e2) via aws-sdk-go-v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig configures the object store connection.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for compatible providers. Empty
	// means AWS S3.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme when Endpoint has none.
	UseSSL         bool
	ForcePathStyle bool
	// PublicBaseURL is the prefix under which stored objects are publicly
	// readable, e.g. a CDN. Empty yields s3://bucket/key URIs.
	PublicBaseURL string
}

// Client holds the SDK client, bucket, and public URL base.
type Client struct {
	s3         *s3.Client
	bucket     string
	publicBase string
}

// New builds a client with static credentials and optional endpoint override.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	var missing []error
	if cfg.Bucket == "" {
		missing = append(missing, errors.New("bucket is required"))
	}
	if cfg.Region == "" {
		missing = append(missing, errors.New("region is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, fmt.Errorf("s3blob: %w", err)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{
		s3:         client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Health issues HeadBucket.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) Close() error { return nil }

func (c *Client) S3() *s3.Client { return c.s3 }

func (c *Client) Bucket() string { return c.bucket }

// ObjectURL is the address clients use to fetch key.
func (c *Client) ObjectURL(key string) string {
	return objectURL(c.publicBase, c.bucket, key)
}

func objectURL(publicBase, bucket, key string) string {
	if publicBase != "" {
		return publicBase + "/" + key
	}
	return "s3://" + bucket + "/" + key
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

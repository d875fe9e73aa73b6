// Package objstore adapts an S3-compatible object store (AWS S3, MinIO,
// or any other implementation behind a custom endpoint) to the narrow
// operation set the archiver needs: bucket existence, fixed-length uploads,
// stat, delete, presigned GETs, prefix enumeration, and a full bucket purge.
//
// Client construction supports path-style addressing and a custom endpoint
// resolver so the same adapter targets AWS S3 directly or a self-hosted
// MinIO/Ceph/Hetzner-style deployment, with TLS verification independently
// configurable for internal endpoints using self-signed certificates.
package objstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound is returned by Stat when the key does not exist.
var ErrNotFound = errors.New("objstore: not found")

// Config controls how NewClient builds the underlying S3 client.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
	VerifyTLS       bool
	IOTimeout       time.Duration
}

// ObjectInfo describes one enumerated object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Client is the object-store adapter used by the rest of the archiver.
type Client struct {
	s3     S3Client
	presign Presigner
	bucket string
	timeout time.Duration
}

// sharedTransport builds a fresh pooled transport for one client; the pool is
// shared by that client's requests, not across client instances. Its limits
// match the concurrency profile of the ingestion and worker pipelines.
func sharedTransport(verifyTLS bool) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: !verifyTLS}, //nolint:gosec // operator-controlled for internal endpoints
	}
}

// NewClient builds a Client against cfg. Region defaults to "us-east-1" when
// empty, which is harmless for non-AWS endpoints that ignore signing region.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	httpClient := &http.Client{
		Timeout:   60 * time.Second,
		Transport: sharedTransport(cfg.VerifyTLS),
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithHTTPClient(httpClient),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.Endpoint, SigningRegion: region, HostnameImmutable: true}, nil
			})))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objstore: load config: %w", err)
	}

	rawClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	timeout := cfg.IOTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		s3:      rawClient,
		presign: s3.NewPresignClient(rawClient),
		bucket:  cfg.Bucket,
		timeout: timeout,
	}, nil
}

// NewClientFromDeps wires an already-constructed S3Client and Presigner,
// used by tests to inject MockS3Client.
func NewClientFromDeps(s3Client S3Client, presigner Presigner, bucket string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{s3: s3Client, presign: presigner, bucket: bucket, timeout: timeout}
}

// EnsureBucket verifies the configured bucket exists, creating it if absent.
func (c *Client) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noBucket) {
		return fmt.Errorf("objstore: head bucket %s: %w", c.bucket, err)
	}

	if _, err := c.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("objstore: create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Upload stores a fixed-length object. Callers must supply the exact byte
// length up front; PutObject's Content-Length pins the AWS SDK to a single,
// non-chunked request so truncated reads surface as transport errors rather
// than silently short objects.
func (c *Client) Upload(ctx context.Context, key string, reader io.Reader, length int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(length),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.s3.PutObject(ctx, input); err != nil {
		return fmt.Errorf("objstore: upload %s: %w", key, err)
	}
	return nil
}

// Stat returns the size of an existing object, or ErrNotFound.
func (c *Client) Stat(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("objstore: stat %s: %w", key, err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

// Delete removes a single object. Deleting a missing key is not an error,
// matching S3 semantics.
func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)}); err != nil {
		return fmt.Errorf("objstore: delete %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a time-limited download URL for key.
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("objstore: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// List enumerates every object under prefix, paginating via continuation
// tokens. It loads the whole listing into memory; bucket sizes here are
// bounded by the archive's own retention, not by an external tenant.
func (c *Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var results []ObjectInfo
	var continuationToken *string

	for {
		pageCtx, cancel := context.WithTimeout(ctx, c.timeout)
		out, err := c.s3.ListObjectsV2(pageCtx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("objstore: list %s: %w", prefix, err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			size := int64(0)
			if obj.Size != nil {
				size = *obj.Size
			}
			results = append(results, ObjectInfo{Key: *obj.Key, Size: size})
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return results, nil
}

// PurgeBucket deletes every object in the bucket, returning the count
// removed. Used only by the administrative "purge confirm" command.
func (c *Client) PurgeBucket(ctx context.Context) (int, error) {
	objects, err := c.List(ctx, "")
	if err != nil {
		return 0, err
	}

	count := 0
	for _, obj := range objects {
		if err := c.Delete(ctx, obj.Key); err != nil {
			return count, fmt.Errorf("objstore: purge at %s: %w", obj.Key, err)
		}
		count++
	}
	return count, nil
}

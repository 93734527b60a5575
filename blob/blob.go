// Package blob stores raw and normalized document bytes in an S3-compatible
// object store.
//
// Raw bytes are content-addressed under raw/{tenant_id}/{file_id}/{sha256};
// canonical documents land at normalized/{tenant_id}/{doc_id}/structured.json.
// Objects are written once and never mutated, so re-ingesting identical bytes
// is a no-op at the storage layer.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/oxbow-systems/sluice/iox"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// RawPath returns the content-addressed key for raw upload bytes.
func RawPath(tenantID, fileID, sha256 string) string {
	return fmt.Sprintf("raw/%s/%s/%s", tenantID, fileID, sha256)
}

// NormalizedPath returns the key for a document's canonical form.
func NormalizedPath(tenantID, docID string) string {
	return fmt.Sprintf("normalized/%s/%s/structured.json", tenantID, docID)
}

// QuarantinePath returns the key for quarantined upload bytes. Quarantined
// objects are retained for audit but never enter the pipeline.
func QuarantinePath(tenantID, fileID, sha256 string) string {
	return fmt.Sprintf("quarantine/%s/%s/%s", tenantID, fileID, sha256)
}

// Options configures the S3-compatible endpoint.
type Options struct {
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// API is the subset of the S3 client the store uses. Satisfied by
// *s3.Client and by test fakes.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// Store is an object store handle scoped to one bucket.
type Store struct {
	client API
	bucket string
}

var _ API = (*s3.Client)(nil)

// New creates a store against the configured endpoint. Credentials come from
// the AWS SDK default chain (env vars, shared config, IAM role).
func New(ctx context.Context, bucket string, opts Options) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("blob: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blob: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return &Store{client: s3.NewFromConfig(awsCfg, s3Opts...), bucket: bucket}, nil
}

// NewFromClient wraps an existing client. Used by tests and the provisioner.
func NewFromClient(client API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Bucket returns the store's bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Put writes body at key with the given content type.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("blob: put %s: %w", key, err)
	}
	return nil
}

// Get reads the object at key. Returns ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("blob: get %s: %w", key, err)
	}
	defer iox.DiscardClose(out.Body)

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return data, nil
}

// Exists reports whether an object is present at key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("blob: head %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the object at key. Deleting a missing object is not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}

// CreateBucket creates the named bucket. Already-owned buckets are treated
// as success so provisioning is idempotent.
func (s *Store) CreateBucket(ctx context.Context, name string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &name})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("blob: create bucket %s: %w", name, err)
	}
	return nil
}

// DeleteBucket removes the named bucket. The bucket must be empty.
func (s *Store) DeleteBucket(ctx context.Context, name string) error {
	if _, err := s.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &name}); err != nil {
		return fmt.Errorf("blob: delete bucket %s: %w", name, err)
	}
	return nil
}

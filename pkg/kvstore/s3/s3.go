// Package s3 implements a key-value backend on Amazon S3 or any
// S3-compatible object store (MinIO, Localstack, ...).
//
// Keys map to object keys under a configurable bucket/prefix. The object
// ETag serves as the generation token: S3 guarantees the ETag changes when
// the content changes, and conditional puts use If-Match / If-None-Match so
// the optimistic-concurrency contract holds without any client-side locking.
//
// Conditional deletes are emulated (read-check-delete) because S3 has no
// conditional DeleteObject; the small race window is acceptable for the
// metadata workflows that use it and is documented on Delete.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gridkv/gridstore/internal/logger"
	"github.com/gridkv/gridstore/pkg/kvstore"
	"github.com/mitchellh/mapstructure"
)

func init() {
	kvstore.RegisterBackend("s3", func(ctx context.Context, options map[string]any) (kvstore.Store, error) {
		var cfg Config
		if err := mapstructure.Decode(options, &cfg); err != nil {
			return nil, kvstore.WrapError(kvstore.ErrInvalidArgument, "invalid s3 store config", "", err)
		}
		return NewStore(ctx, cfg)
	})
}

// Config configures an S3-backed store.
type Config struct {
	// Backend is the discriminator; always "s3".
	Backend string `mapstructure:"backend"`

	// Bucket is the S3 bucket name. Required.
	Bucket string `mapstructure:"bucket"`

	// Region is the AWS region. Required.
	Region string `mapstructure:"region"`

	// KeyPrefix is prepended to every key (e.g. "arrays/").
	KeyPrefix string `mapstructure:"key_prefix"`

	// Endpoint overrides the S3 endpoint (for MinIO, Localstack, etc.).
	// When set, path-style addressing is forced.
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty, the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Store is the S3 kvstore.Store implementation.
type Store struct {
	client    *awss3.Client
	bucket    string
	keyPrefix string
}

// NewStore creates an S3 store from configuration, building the AWS client
// with the default credential chain unless static credentials are given.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, kvstore.NewError(kvstore.ErrInvalidArgument, "s3 store: bucket is required", "")
	}
	if cfg.Region == "" {
		return nil, kvstore.NewError(kvstore.ErrInvalidArgument, "s3 store: region is required", "")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, kvstore.WrapError(kvstore.ErrUnavailable, "failed to load AWS config", "", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Path-style addressing for MinIO/Localstack compatibility.
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 store initialized: bucket=%s region=%s prefix=%s", cfg.Bucket, cfg.Region, cfg.KeyPrefix)

	return NewStoreWithClient(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewStoreWithClient wraps an existing S3 client. Used by tests that point at
// Localstack with a pre-built client.
func NewStoreWithClient(client *awss3.Client, bucket, keyPrefix string) *Store {
	return &Store{client: client, bucket: bucket, keyPrefix: keyPrefix}
}

func (s *Store) objectKey(key string) string {
	return s.keyPrefix + key
}

// Get returns the value stored under key, or a Missing result.
func (s *Store) Get(ctx context.Context, key string) (kvstore.ReadResult, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return kvstore.ReadResult{Missing: true}, nil
		}
		return kvstore.ReadResult{}, kvstore.WrapError(kvstore.ErrIO, "s3 get failed", key, err)
	}
	defer out.Body.Close()

	value, err := io.ReadAll(out.Body)
	if err != nil {
		return kvstore.ReadResult{}, kvstore.WrapError(kvstore.ErrIO, "s3 read failed", key, err)
	}

	return kvstore.ReadResult{Value: value, Generation: etagGeneration(out.ETag)}, nil
}

// Put stores value under key subject to opts.
func (s *Store) Put(ctx context.Context, key string, value []byte, opts kvstore.WriteOptions) (kvstore.Generation, error) {
	input := &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(value),
	}
	if opts.IfNotExists {
		input.IfNoneMatch = aws.String("*")
	}
	if opts.IfGenerationMatch != kvstore.NoGeneration {
		input.IfMatch = aws.String(string(opts.IfGenerationMatch))
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			if opts.IfNotExists {
				return kvstore.NoGeneration, kvstore.NewError(kvstore.ErrAlreadyExists, "key already exists", key)
			}
			return kvstore.NoGeneration, kvstore.NewError(kvstore.ErrGenerationMismatch, "generation mismatch", key)
		}
		return kvstore.NoGeneration, kvstore.WrapError(kvstore.ErrIO, "s3 put failed", key, err)
	}
	return etagGeneration(out.ETag), nil
}

// Delete removes key subject to opts.
//
// When a generation precondition is set, the current generation is checked
// with a HeadObject first; S3 offers no atomic conditional delete, so a
// concurrent writer between the check and the delete can still win.
func (s *Store) Delete(ctx context.Context, key string, opts kvstore.WriteOptions) error {
	if opts.IfGenerationMatch != kvstore.NoGeneration {
		head, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.objectKey(key)),
		})
		if err != nil {
			if isNotFound(err) {
				return kvstore.NewError(kvstore.ErrGenerationMismatch, "key does not exist", key)
			}
			return kvstore.WrapError(kvstore.ErrIO, "s3 head failed", key, err)
		}
		if etagGeneration(head.ETag) != opts.IfGenerationMatch {
			return kvstore.NewError(kvstore.ErrGenerationMismatch, "generation mismatch", key)
		}
	}

	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return kvstore.WrapError(kvstore.ErrIO, "s3 delete failed", key, err)
	}
	return nil
}

// List returns all keys with the given prefix in ascending order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := awss3.NewListObjectsV2Paginator(s.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, kvstore.WrapError(kvstore.ErrIO, "s3 list failed", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix))
		}
	}
	return keys, nil
}

// DeletePrefix removes every key with the given prefix using batch deletes.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}

	// DeleteObjects accepts at most 1000 keys per request.
	const batchSize = 1000
	for start := 0; start < len(keys); start += batchSize {
		end := min(start+batchSize, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.objectKey(key))})
		}
		_, err := s.client.DeleteObjects(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return kvstore.WrapError(kvstore.ErrIO, "s3 batch delete failed", prefix, err)
		}
	}
	return nil
}

// Close is a no-op; the underlying HTTP client needs no teardown.
func (s *Store) Close() error {
	return nil
}

func etagGeneration(etag *string) kvstore.Generation {
	if etag == nil {
		return kvstore.NoGeneration
	}
	return kvstore.Generation(strings.Trim(*etag, `"`))
}

func isNoSuchKey(err error) bool {
	var notFound *types.NoSuchKey
	return errors.As(err, &notFound)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	return isNoSuchKey(err)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
}

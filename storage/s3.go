package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cubefs/cubefs/blobstore/util/errors"
)

type S3Config struct {
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	KeyPrefix string `json:"key_prefix"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	// UsePathStyle must be on for most S3-compatible stores.
	UsePathStyle bool `json:"use_path_style"`
}

// S3Backend stores objects in one bucket of S3 or an S3-compatible
// store. Range reads map straight onto ranged GetObject calls.
type S3Backend struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

func NewS3Backend(ctx context.Context, cfg *S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Info(err, "load aws config failed")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3BackendWithClient(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewS3BackendWithClient wraps an already configured client.
func NewS3BackendWithClient(client *s3.Client, bucket, keyPrefix string) *S3Backend {
	return &S3Backend{client: client, bucket: bucket, keyPrefix: keyPrefix}
}

func (b *S3Backend) objectKey(key string) string {
	if b.keyPrefix == "" {
		return key
	}
	return b.keyPrefix + "/" + key
}

func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.Info(err, "put object failed")
	}
	return nil
}

func (b *S3Backend) Get(ctx context.Context, key string, off, length int64) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	}
	if off > 0 || length >= 0 {
		if length < 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", off))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", off, off+length-1))
		}
	}

	out, err := b.client.GetObject(ctx, input)
	if err != nil {
		var notFound *types.NoSuchKey
		if stderrors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, errors.Info(err, "get object failed")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Info(err, "read object body failed")
	}
	return data, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return errors.Info(err, "delete object failed")
	}
	return nil
}

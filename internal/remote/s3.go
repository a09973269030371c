package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/aweris/chonky/internal/digest"
	"github.com/aweris/chonky/internal/store"
)

const defaultRegion = "us-east-1"

// S3Config locates objects in a bucket.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key ("<prefix>/<hex>").
	Prefix string
	// Endpoint targets an S3-compatible server and enables path-style addressing.
	Endpoint string
	Region   string
}

// S3 stores objects as "<prefix>/<hex>" keys. Credentials come from the
// default AWS chain (environment, shared config, instance roles).
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3 store.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = defaultRegion
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			// S3-compatible servers often reject the newer default checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key for d.
func (s *S3) Key(d digest.Digest) string {
	if s.prefix == "" {
		return d.String()
	}
	return path.Join(s.prefix, d.String())
}

func (s *S3) Exists(ctx context.Context, d digest.Digest) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(d)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, s3Error("stat", d, err)
	}
	return true, nil
}

func (s *S3) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(d)),
	})
	if err != nil {
		return nil, s3Error("get", d, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, s3Error("get", d, err)
	}
	return data, nil
}

func (s *S3) Put(ctx context.Context, d digest.Digest, data []byte) error {
	exists, err := s.Exists(ctx, d)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.Key(d)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return s3Error("put", d, err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, d digest.Digest) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.Key(d)),
	})
	if err != nil && !isS3NotFound(err) {
		return s3Error("delete", d, err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func s3Error(op string, d digest.Digest, err error) error {
	if isS3NotFound(err) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, d.Short())
	}
	return fmt.Errorf("%w: %s %s: %w", store.ErrTransfer, op, d.Short(), err)
}

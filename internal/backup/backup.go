package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrNoPassphrase = errors.New("backup passphrase not configured")

// s3Client is the subset of *s3.Client the uploader calls.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// Uploader stores encrypted snapshots in an S3 bucket.
type Uploader struct {
	client     s3Client
	bucket     string
	passphrase string
	logger     *slog.Logger
}

// NewUploader returns nil when S3 is not configured.
func NewUploader(cfg S3Config, passphrase string, logger *slog.Logger) *Uploader {
	if !cfg.enabled() {
		return nil
	}
	return newUploader(newS3Client(cfg), cfg.Bucket, passphrase, logger)
}

func newUploader(client s3Client, bucket, passphrase string, logger *slog.Logger) *Uploader {
	return &Uploader{
		client:     client,
		bucket:     bucket,
		passphrase: passphrase,
		logger:     logger.With("component", "backup"),
	}
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Upload encrypts plaintext and writes it under key. It returns the stored
// object size.
func (u *Uploader) Upload(ctx context.Context, key string, plaintext []byte) (int64, error) {
	if u.passphrase == "" {
		return 0, ErrNoPassphrase
	}
	sealed, err := Seal(plaintext, u.passphrase)
	if err != nil {
		return 0, fmt.Errorf("encrypt snapshot: %w", err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return 0, fmt.Errorf("upload to s3: %w", err)
	}

	u.logger.Info("snapshot uploaded", "bucket", u.bucket, "key", key, "bytes", len(sealed))
	return int64(len(sealed)), nil
}

// Download fetches and decrypts the object under key.
func (u *Uploader) Download(ctx context.Context, key string) ([]byte, error) {
	if u.passphrase == "" {
		return nil, ErrNoPassphrase
	}
	out, err := u.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Open(sealed, u.passphrase)
}

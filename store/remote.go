package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultBucket receives uploads when no bucket is configured
const DefaultBucket = "eegdata"

// RemoteConfig describes an S3 compatible object store
type RemoteConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // Prepended to every object key
	UseSSL    bool
}

// Remote uploads saved datasets to an object store
type Remote struct {
	mc     *minio.Client
	bucket string
	prefix string
	log    *slog.Logger
}

// NewRemote creates the object store client. No connection is made
// until the first request.
func NewRemote(cfg RemoteConfig, log *slog.Logger) (*Remote, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("remote access_key and secret_key are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DefaultBucket
	}
	if log == nil {
		log = slog.Default()
	}
	return &Remote{mc: mc, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/"), log: log}, nil
}

// Bucket returns the bucket name
func (r *Remote) Bucket() string {
	return r.bucket
}

// Key returns the object key of a dataset file:
// <prefix>/<subject>/<kind>/<file name>
func (r *Remote) Key(subject, kind, filename string) string {
	return path.Join(r.prefix, safeName(subject), safeName(kind), filepath.Base(filename))
}

// EnsureBucket creates the bucket if it does not exist
func (r *Remote) EnsureBucket(ctx context.Context) error {
	exists, err := r.mc.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := r.mc.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		r.log.Info("bucket created", slog.String("bucket", r.bucket))
	}
	return nil
}

// Upload stores a local file under key
func (r *Remote) Upload(ctx context.Context, filename, key string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	contentType := "application/octet-stream"
	switch DetectFormat(filename) {
	case FormatNPZ:
		contentType = "application/zip"
	case FormatCSV:
		contentType = "text/csv"
	}
	_, err = r.mc.PutObject(ctx, r.bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	r.log.Info("dataset uploaded", slog.String("bucket", r.bucket), slog.String("key", key))
	return nil
}

// Exists reports whether an object is stored under key
func (r *Remote) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.mc.StatObject(ctx, r.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// Package storage pushes finished migration packages to S3-compatible
// object storage, so packages move between hosts without a shared
// filesystem.
package storage

import (
	"context"
	"fmt"
	l "log"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the object storage connection settings, usually read from
// viper's minio.* keys.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// Prefix is prepended to every uploaded object name.
	Prefix string
}

// Uploader wraps a Minio client bound to one bucket.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewUploader(cfg Config) (*Uploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage needs at least an endpoint and a bucket")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to object storage: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload pushes one local file into the bucket and returns the object
// name it was stored under.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	object := path.Join(u.prefix, filepath.Base(localPath))

	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return "", fmt.Errorf("could not check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("could not create bucket %s: %w", u.bucket, err)
		}
	}

	info, err := u.client.FPutObject(ctx, u.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return "", fmt.Errorf("could not upload %s: %w", localPath, err)
	}
	l.Printf("uploaded %s to %s/%s (%d bytes)", localPath, u.bucket, object, info.Size)
	return object, nil
}

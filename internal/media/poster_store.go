// Package media caches movie poster images in MinIO/S3-compatible object
// storage so clients are not coupled to upstream poster CDNs.
package media

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PosterStore stores poster images keyed by movie id.
type PosterStore struct {
	client *minio.Client
	bucket string
}

// NewPosterStore connects to MinIO and ensures the poster bucket exists.
func NewPosterStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*PosterStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check poster bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create poster bucket: %w", err)
		}
	}
	return &PosterStore{client: client, bucket: bucket}, nil
}

func (p *PosterStore) key(movieID string) string {
	return "posters/" + movieID + ".jpg"
}

// Put uploads a poster image for the movie.
func (p *PosterStore) Put(ctx context.Context, movieID string, r io.Reader, size int64, contentType string) error {
	_, err := p.client.PutObject(ctx, p.bucket, p.key(movieID), r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put poster: %w", err)
	}
	return nil
}

// Exists reports whether a cached poster is present for the movie.
func (p *PosterStore) Exists(ctx context.Context, movieID string) bool {
	_, err := p.client.StatObject(ctx, p.bucket, p.key(movieID), minio.StatObjectOptions{})
	return err == nil
}

// PresignGet returns a time-limited URL for a cached poster.
func (p *PosterStore) PresignGet(ctx context.Context, movieID string, expiry time.Duration) (string, error) {
	url, err := p.client.PresignedGetObject(ctx, p.bucket, p.key(movieID), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign poster: %w", err)
	}
	return url.String(), nil
}

// Delete removes a cached poster.
func (p *PosterStore) Delete(ctx context.Context, movieID string) error {
	if err := p.client.RemoveObject(ctx, p.bucket, p.key(movieID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete poster: %w", err)
	}
	return nil
}

package export

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"pelias_geocoder/internal/adapters/storage"
	"pelias_geocoder/internal/geocode/mapper"

	"github.com/google/uuid"
)

// Publisher uploads finished runs as GeoJSON files.
type Publisher struct {
	store  storage.Store
	bucket string
}

// NewPublisher creates a Publisher writing to bucket.
func NewPublisher(store storage.Store, bucket string) *Publisher {
	return &Publisher{store: store, bucket: bucket}
}

// EnsureBucket creates the export bucket when missing.
func (p *Publisher) EnsureBucket(ctx context.Context) error {
	return p.store.EnsureBucketExists(ctx, p.bucket)
}

// Publish writes the records of runID and returns the object key.
func (p *Publisher) Publish(ctx context.Context, runID uuid.UUID, name string, schema mapper.Schema, features []mapper.Feature) (string, error) {
	var buf bytes.Buffer
	if err := WriteCollection(&buf, name, schema, features); err != nil {
		return "", fmt.Errorf("render geojson: %w", err)
	}

	key, err := p.store.UploadFile(ctx, p.bucket, "runs", runID.String()+".geojson", ContentType, &buf, int64(buf.Len()))
	if err != nil {
		return "", err
	}
	return key, nil
}

// DownloadURL returns a presigned URL for an exported run.
func (p *Publisher) DownloadURL(ctx context.Context, key string) (*storage.PresignedURL, error) {
	return p.store.GenerateDownloadURL(ctx, p.bucket, key)
}

// Open streams an exported run.
func (p *Publisher) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return p.store.DownloadFile(ctx, p.bucket, key)
}

// Remove deletes an exported run.
func (p *Publisher) Remove(ctx context.Context, key string) error {
	return p.store.DeleteObject(ctx, p.bucket, key)
}

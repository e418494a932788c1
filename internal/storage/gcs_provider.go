package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSClientFactory creates GCS clients; tests swap it for a fake.
type GCSClientFactory interface {
	NewClient(ctx context.Context) (*storage.Client, error)
}

// DefaultGCSClientFactory uses Application Default Credentials.
type DefaultGCSClientFactory struct{}

// NewClient creates a client with the ambient Google credentials.
func (DefaultGCSClientFactory) NewClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return client, nil
}

// GCSProvider implements the storage.Provider interface for Google Cloud Storage.
type GCSProvider struct {
	Client      *storage.Client
	BucketName  string
	ContentType string
}

// NewGCSProvider initializes a GCS client and verifies the bucket is reachable.
func NewGCSProvider(ctx context.Context, bucketName string, factory GCSClientFactory) (*GCSProvider, error) {
	client, err := factory.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	// Fail fast on startup if the bucket is missing or not accessible.
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			zap.L().Warn("Failed to close GCS client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", bucketName, err)
	}

	return &GCSProvider{
		Client:      client,
		BucketName:  bucketName,
		ContentType: "application/json",
	}, nil
}

// Save uploads the given data to a specific object in the GCS bucket.
func (g *GCSProvider) Save(ctx context.Context, objectName string, data []byte) error {
	wc := g.Client.Bucket(g.BucketName).Object(objectName).NewWriter(ctx)
	if g.ContentType != "" {
		wc.ContentType = g.ContentType
	}

	if _, err := wc.Write(data); err != nil {
		if cerr := wc.Close(); cerr != nil {
			zap.L().Warn("Failed to close GCS writer after write failure", zap.Error(err), zap.NamedError("close_error", cerr))
		}
		return fmt.Errorf("failed to write data to GCS object %s: %w", objectName, err)
	}

	// Close finalizes the upload.
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for object %s: %w", objectName, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCSProvider) Close() error {
	if g.Client == nil {
		return nil
	}
	if err := g.Client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}

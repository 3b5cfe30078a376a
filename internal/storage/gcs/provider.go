// Package gcs mirrors catalog snapshots to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"gcs_bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Provider implements storage.Provider on a GCS bucket.
type Provider struct {
	client *storage.Client
	bucket string
}

// NewProvider wraps an existing client. The bucket is not checked.
func NewProvider(client *storage.Client, bucket string) (*Provider, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Provider{client: client, bucket: bucket}, nil
}

// Dial creates a client with Application Default Credentials and verifies the
// bucket is reachable so misconfiguration fails at startup.
func Dial(ctx context.Context, bucket string, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Failed to close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", bucket, err)
	}
	return NewProvider(client, bucket)
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close GCS client: %w", err)
	}
	return nil
}

// Save uploads data to objectName in the configured bucket.
func (p *Provider) Save(ctx context.Context, objectName string, data []byte) error {
	if strings.TrimSpace(objectName) == "" {
		return fmt.Errorf("object name is required")
	}
	wc := p.client.Bucket(p.bucket).Object(objectName).NewWriter(ctx)
	wc.ContentType = "application/cbor"

	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", objectName, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close writer for object %s: %w", objectName, err)
	}
	return nil
}

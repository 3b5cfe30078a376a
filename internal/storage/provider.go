// Package storage defines the object storage abstraction used to mirror catalog
// snapshots off the host.
package storage

import (
	"context"
)

// Provider uploads an object to a blob store.
type Provider interface {
	// Save writes data to objectName, replacing any existing object.
	Save(ctx context.Context, objectName string, data []byte) error
}

// NoOpProvider discards every object. It backs the mirror when no bucket is
// configured.
type NoOpProvider struct{}

// Save for NoOpProvider does nothing and always returns nil.
func (n *NoOpProvider) Save(_ context.Context, _ string, _ []byte) error {
	return nil
}

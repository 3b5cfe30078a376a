// Package memory provides in-memory storage backends for development and tests.
package memory

import (
	"context"
	"sync"
)

// BlobStore keeps uploaded objects in memory. It satisfies storage.Provider.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Save stores a private copy of data under objectName.
func (s *BlobStore) Save(_ context.Context, objectName string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[objectName] = append([]byte(nil), data...)
	return nil
}

// Object returns a copy of a stored object.
func (s *BlobStore) Object(objectName string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[objectName]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

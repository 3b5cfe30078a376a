package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
)

// CatalogStore implements catalog.Store in memory. LoadErr and SaveErr, when
// set, are returned by the next calls and let tests drive failure paths.
type CatalogStore struct {
	mu      sync.Mutex
	entries []catalog.Entry
	saves   int

	LoadErr error
	SaveErr func(attempt int) error
}

// NewCatalogStore returns a store preloaded with entries.
func NewCatalogStore(entries ...catalog.Entry) *CatalogStore {
	return &CatalogStore{entries: slices.Clone(entries)}
}

// Load returns the stored entries in catalog order.
func (s *CatalogStore) Load(_ context.Context) ([]catalog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	return catalog.Merge(s.entries, nil), nil
}

// Save replaces the stored entries.
func (s *CatalogStore) Save(_ context.Context, entries []catalog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.SaveErr != nil {
		if err := s.SaveErr(s.saves); err != nil {
			return err
		}
	}
	s.entries = slices.Clone(entries)
	return nil
}

// Saves reports how many times Save was called, failed attempts included.
func (s *CatalogStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Snapshot returns a copy of the stored entries.
func (s *CatalogStore) Snapshot() []catalog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Package memory provides an in-process index.Backend for tests and dry runs.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
)

// Backend keeps documents in a map keyed by entry ID.
type Backend struct {
	mu      sync.RWMutex
	created bool
	docs    map[string]catalog.Entry

	// Fail, when set, is consulted before each step with the step name
	// ("ensure", "delete" or "insert").
	Fail func(step string) error
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{docs: make(map[string]catalog.Entry)}
}

// EnsureIndex marks the index as created.
func (b *Backend) EnsureIndex(context.Context) error {
	if err := b.fail("ensure"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.created = true
	return nil
}

// DeleteAll drops every document.
func (b *Backend) DeleteAll(context.Context) error {
	if err := b.fail("delete"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.docs)
	return nil
}

// AddDocuments upserts entries by ID.
func (b *Backend) AddDocuments(_ context.Context, entries []catalog.Entry) error {
	if err := b.fail("insert"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.docs[e.ID] = e
	}
	return nil
}

// Created reports whether EnsureIndex succeeded at least once.
func (b *Backend) Created() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.created
}

// Documents returns the indexed entries sorted by ID.
func (b *Backend) Documents() []catalog.Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]catalog.Entry, 0, len(b.docs))
	for _, e := range b.docs {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b catalog.Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (b *Backend) fail(step string) error {
	if b.Fail == nil {
		return nil
	}
	return b.Fail(step)
}

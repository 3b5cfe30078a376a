// Package uuid generates cycle identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 in its string form.
func (g Generator) NewID() (string, error) {
	id, err := g.NewRawID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRawID returns a UUIDv7.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

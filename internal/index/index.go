// Package index republishes the catalog into a search index by replacing its
// whole content.
package index

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/metrics"
)

// PrimaryKey is the document field that identifies an entry in the index.
const PrimaryKey = "id"

// Stage names a step of a full replace.
type Stage string

// Stages of a full replace, in order.
const (
	StageEnsure Stage = "ensure"
	StageDelete Stage = "delete"
	StageInsert Stage = "insert"
)

var (
	// ErrEnsureFailed means the index could not be fetched or created.
	ErrEnsureFailed = errors.New("get or create index failed")
	// ErrDeleteFailed means outdated documents could not be removed.
	ErrDeleteFailed = errors.New("delete documents failed")
	// ErrInsertFailed means the catalog could not be added.
	ErrInsertFailed = errors.New("add documents failed")
)

// Backend is a search index that supports wholesale replacement.
type Backend interface {
	EnsureIndex(ctx context.Context) error
	DeleteAll(ctx context.Context) error
	AddDocuments(ctx context.Context, entries []catalog.Entry) error
}

// PublishError reports which step of a publish failed and what state that
// leaves the index in.
type PublishError struct {
	Stage Stage
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s: %v (%s)", e.sentinel(), e.Err, e.Status())
}

// Unwrap exposes both the stage sentinel and the backend error.
func (e *PublishError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

// Status describes the index after the failure.
func (e *PublishError) Status() string {
	switch e.Stage {
	case StageEnsure:
		return "index is out of control"
	case StageDelete:
		return "index is outdated"
	case StageInsert:
		return "index is empty"
	default:
		return "index state unknown"
	}
}

func (e *PublishError) sentinel() error {
	switch e.Stage {
	case StageEnsure:
		return ErrEnsureFailed
	case StageDelete:
		return ErrDeleteFailed
	default:
		return ErrInsertFailed
	}
}

// FullReplace publishes by ensuring the index exists, deleting every document
// and adding the whole catalog. A failing step skips the ones after it.
type FullReplace struct {
	backend Backend
	logger  *zap.Logger
}

// NewFullReplace wraps backend.
func NewFullReplace(backend Backend, logger *zap.Logger) *FullReplace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FullReplace{backend: backend, logger: logger.Named("index")}
}

// Publish replaces the index content with entries.
func (p *FullReplace) Publish(ctx context.Context, entries []catalog.Entry) error {
	steps := []struct {
		stage Stage
		run   func(context.Context) error
	}{
		{StageEnsure, p.backend.EnsureIndex},
		{StageDelete, p.backend.DeleteAll},
		{StageInsert, func(ctx context.Context) error { return p.backend.AddDocuments(ctx, entries) }},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			pubErr := &PublishError{Stage: step.stage, Err: err}
			metrics.ObservePublishFailure(string(step.stage))
			p.logger.Error("Index publish failed",
				zap.String("stage", string(step.stage)),
				zap.String("status", pubErr.Status()),
				zap.Error(err),
			)
			return pubErr
		}
	}
	p.logger.Info("Index published", zap.Int("documents", len(entries)))
	return nil
}

package gcs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/metrics"
	"github.com/JakeFAU/invite-crawler/internal/storage"
)

// LatestObject is the object name, under the prefix, that always holds the most
// recent snapshot.
const LatestObject = "latest.cbor"

// Encoder renders the catalog in its persisted form.
type Encoder interface {
	Encode(entries []catalog.Entry) ([]byte, error)
}

// Mirror uploads a copy of each saved catalog. Mirroring is best effort.
type Mirror struct {
	provider storage.Provider
	encoder  Encoder
	prefix   string
	logger   *zap.Logger
}

// NewMirror builds a Mirror writing through provider.
func NewMirror(provider storage.Provider, encoder Encoder, prefix string, logger *zap.Logger) (*Mirror, error) {
	if provider == nil {
		return nil, errors.New("storage provider is required")
	}
	if encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mirror{
		provider: provider,
		encoder:  encoder,
		prefix:   strings.Trim(prefix, "/"),
		logger:   logger,
	}, nil
}

// SnapshotName returns the timestamped object name for a snapshot taken at at.
func (m *Mirror) SnapshotName(at time.Time) string {
	return path.Join(m.prefix, fmt.Sprintf("catalog-%d.cbor", at.Unix()))
}

// Mirror uploads the timestamped snapshot and then refreshes latest.cbor.
// Failures are logged and counted and also returned for callers that care.
func (m *Mirror) Mirror(ctx context.Context, state catalog.State, at time.Time) error {
	data, err := m.encoder.Encode(state.Entries())
	if err != nil {
		return m.fail("encode", err)
	}
	snapshot := m.SnapshotName(at)
	if err := m.provider.Save(ctx, snapshot, data); err != nil {
		return m.fail(snapshot, err)
	}
	latest := path.Join(m.prefix, LatestObject)
	if err := m.provider.Save(ctx, latest, data); err != nil {
		return m.fail(latest, err)
	}
	m.logger.Debug("Catalog snapshot mirrored",
		zap.String("object", snapshot),
		zap.Int("entries", state.Len()),
		zap.Int("bytes", len(data)),
	)
	return nil
}

func (m *Mirror) fail(object string, err error) error {
	metrics.ObserveSnapshotMirrorFailure()
	m.logger.Warn("Catalog snapshot mirror failed", zap.String("object", object), zap.Error(err))
	return fmt.Errorf("mirror %s: %w", object, err)
}

// Package local persists the catalog to a single file on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
)

// Serializer converts a catalog to and from its on-disk form.
type Serializer interface {
	Encode(entries []catalog.Entry) ([]byte, error)
	Decode(data []byte) ([]catalog.Entry, error)
}

// Config captures the parameters for the file-backed catalog store.
type Config struct {
	// Path is the catalog file. Its directory must be writable because saves
	// go through a temporary sibling file.
	Path string `mapstructure:"path" yaml:"path"`
}

// Store implements catalog.Store on top of one file.
type Store struct {
	path       string
	serializer Serializer
}

// New creates a file-backed catalog store, creating the parent directory when
// needed and checking that it is writable.
func New(cfg Config, serializer Serializer) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	if serializer == nil {
		return nil, fmt.Errorf("serializer is required")
	}

	dir := filepath.Dir(cfg.Path)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat catalog directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("catalog directory path is not a directory")
	}

	if info, err := os.Stat(cfg.Path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("catalog path %s is a directory", cfg.Path)
	}

	return &Store{
		path:       cfg.Path,
		serializer: serializer,
	}, nil
}

// Path returns the catalog file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the catalog file. A missing file is an empty catalog; a file that
// cannot be opened or decoded is reported as a *catalog.CorruptionError.
func (s *Store) Load(_ context.Context) ([]catalog.Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []catalog.Entry{}, nil
	}
	if err != nil {
		return nil, &catalog.CorruptionError{Path: s.path, Op: catalog.OpOpen, Err: err}
	}
	entries, err := s.serializer.Decode(data)
	if err != nil {
		return nil, &catalog.CorruptionError{Path: s.path, Op: catalog.OpDecode, Err: err}
	}
	return catalog.Merge(entries, nil), nil
}

// Save encodes entries into a fresh temporary file, syncs it and renames it
// over the catalog file, so readers see either the old or the new catalog.
func (s *Store) Save(_ context.Context, entries []catalog.Entry) error {
	data, err := s.serializer.Encode(entries)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write catalog %s: %w", s.path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	// #nosec G304 -- dir is the catalog's own directory.
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open catalog directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, fs.ErrInvalid) {
		return fmt.Errorf("sync catalog directory: %w", err)
	}
	return nil
}

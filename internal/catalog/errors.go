package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt matches every *CorruptionError.
	ErrCorrupt = errors.New("catalog data is corrupt")
	// ErrLoadAborted is returned when the corruption policy refuses to continue.
	ErrLoadAborted = errors.New("catalog load aborted")
)

// Corruption operations.
const (
	OpOpen   = "open"
	OpDecode = "decode"
)

// CorruptionError reports persisted catalog data that exists but cannot be
// read back. Continuing past it means the saved data will be overwritten.
type CorruptionError struct {
	Path string
	Op   string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("catalog %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrCorrupt) match any CorruptionError.
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupt
}

// Package codec serializes catalogs into a versioned, checksummed envelope.
// The entries section is written by a pluggable Codec; formats that predate the
// envelope are read through LegacyReader adapters and upgraded on the next save.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
)

// Envelope identification.
const (
	FormatName     = "invite-catalog"
	CurrentVersion = 2
)

var (
	// ErrUnknownFormat is returned when no reader recognizes the data.
	ErrUnknownFormat = errors.New("unrecognized catalog format")
	// ErrChecksumMismatch is returned when the entries digest does not match.
	ErrChecksumMismatch = errors.New("catalog checksum mismatch")
)

// Codec encodes the entries section of the envelope.
type Codec interface {
	Name() string
	Marshal(entries []catalog.Entry) ([]byte, error)
	Unmarshal(data []byte) ([]catalog.Entry, error)
}

// LegacyReader decodes a whole file written before the envelope existed.
type LegacyReader interface {
	Name() string
	Decode(data []byte) ([]catalog.Entry, error)
}

// Hasher digests the encoded entries.
type Hasher interface {
	Hash(data []byte) (string, error)
	Verify(data []byte, digest string) bool
}

// CBOR encodes entries with deterministic CBOR.
type CBOR struct{}

// Name implements Codec.
func (CBOR) Name() string { return "cbor" }

// Marshal implements Codec.
func (CBOR) Marshal(entries []catalog.Entry) ([]byte, error) {
	data, err := catalog.CanonicalEncoding.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal entries: %w", err)
	}
	return data, nil
}

// Unmarshal implements Codec.
func (CBOR) Unmarshal(data []byte) ([]catalog.Entry, error) {
	var entries []catalog.Entry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("cbor unmarshal entries: %w", err)
	}
	return entries, nil
}

// JSON encodes entries as a JSON array, handy for inspecting a catalog by hand.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return "json" }

// Marshal implements Codec.
func (JSON) Marshal(entries []catalog.Entry) ([]byte, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("json marshal entries: %w", err)
	}
	return data, nil
}

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte) ([]catalog.Entry, error) {
	var entries []catalog.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("json unmarshal entries: %w", err)
	}
	return entries, nil
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "cbor":
		return CBOR{}, nil
	case "json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("unknown catalog codec %q", name)
	}
}

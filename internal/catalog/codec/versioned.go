package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
)

type envelope struct {
	Format   string `cbor:"format"`
	Version  int    `cbor:"version"`
	Codec    string `cbor:"codec"`
	Checksum string `cbor:"checksum"`
	Entries  []byte `cbor:"entries"`
}

// Versioned writes the current envelope with one Codec and reads the current
// envelope with any known Codec, falling back to legacy readers.
type Versioned struct {
	writer Codec
	codecs map[string]Codec
	legacy []LegacyReader
	hasher Hasher
}

// NewVersioned builds a Versioned codec that writes with writer.
func NewVersioned(writer Codec, hasher Hasher, legacy ...LegacyReader) *Versioned {
	if writer == nil {
		writer = CBOR{}
	}
	codecs := map[string]Codec{}
	for _, c := range []Codec{CBOR{}, JSON{}, writer} {
		codecs[c.Name()] = c
	}
	return &Versioned{
		writer: writer,
		codecs: codecs,
		legacy: legacy,
		hasher: hasher,
	}
}

// Encode serializes entries into the current envelope.
func (v *Versioned) Encode(entries []catalog.Entry) ([]byte, error) {
	if entries == nil {
		entries = []catalog.Entry{}
	}
	payload, err := v.writer.Marshal(entries)
	if err != nil {
		return nil, err
	}
	sum, err := v.checksum(payload)
	if err != nil {
		return nil, err
	}
	data, err := catalog.CanonicalEncoding.Marshal(envelope{
		Format:   FormatName,
		Version:  CurrentVersion,
		Codec:    v.writer.Name(),
		Checksum: sum,
		Entries:  payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses data written by Encode or by any legacy reader.
func (v *Versioned) Decode(data []byte) ([]catalog.Entry, error) {
	var env envelope
	envErr := cbor.Unmarshal(data, &env)
	if envErr == nil && env.Format == FormatName {
		return v.decodeEnvelope(env)
	}

	errs := []error{ErrUnknownFormat}
	if envErr != nil {
		errs = append(errs, fmt.Errorf("envelope: %w", envErr))
	}
	for _, reader := range v.legacy {
		entries, err := reader.Decode(data)
		if err == nil {
			return entries, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", reader.Name(), err))
	}
	return nil, errors.Join(errs...)
}

func (v *Versioned) decodeEnvelope(env envelope) ([]catalog.Entry, error) {
	if env.Version > CurrentVersion {
		return nil, fmt.Errorf("catalog version %d is newer than supported version %d", env.Version, CurrentVersion)
	}
	c, ok := v.codecs[env.Codec]
	if !ok {
		return nil, fmt.Errorf("unknown catalog codec %q", env.Codec)
	}
	if v.hasher != nil && !v.hasher.Verify(env.Entries, env.Checksum) {
		return nil, fmt.Errorf("%w: stored digest %q", ErrChecksumMismatch, env.Checksum)
	}
	return c.Unmarshal(env.Entries)
}

func (v *Versioned) checksum(payload []byte) (string, error) {
	if v.hasher == nil {
		return "", nil
	}
	sum, err := v.hasher.Hash(payload)
	if err != nil {
		return "", fmt.Errorf("hash entries: %w", err)
	}
	return sum, nil
}

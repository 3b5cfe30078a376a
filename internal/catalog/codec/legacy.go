package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
)

type legacyEntry struct {
	UpdateTimestamp uint64         `cbor:"update_timestamp"`
	EntryID         string         `cbor:"entry_id"`
	Invite          catalog.Invite `cbor:"invite"`
}

// LegacyV1 reads the version 1 layout: a bare CBOR array of
// {update_timestamp, entry_id, invite} records.
type LegacyV1 struct{}

// Name implements LegacyReader.
func (LegacyV1) Name() string { return "legacy-v1" }

// Decode implements LegacyReader.
func (LegacyV1) Decode(data []byte) ([]catalog.Entry, error) {
	var records []legacyEntry
	if err := cbor.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal legacy records: %w", err)
	}
	entries := make([]catalog.Entry, 0, len(records))
	for i, rec := range records {
		if rec.EntryID == "" {
			return nil, fmt.Errorf("legacy record %d: %w", i, errors.New("missing entry_id"))
		}
		entries = append(entries, catalog.Entry{
			ID:         rec.EntryID,
			ObservedAt: int64(rec.UpdateTimestamp), //nolint:gosec // unix seconds fit in int64
			Invite:     rec.Invite,
		})
	}
	return entries, nil
}

package catalog

import (
	"bytes"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// CanonicalEncoding is the deterministic CBOR mode shared by the catalog file
// format and the merge tie-break. Times keep nanosecond precision.
var CanonicalEncoding = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// Compare is the total order used for merging and presentation: ascending ID,
// then descending ObservedAt, then ascending canonical payload encoding.
func Compare(a, b Entry) int {
	if c := strings.Compare(a.ID, b.ID); c != 0 {
		return c
	}
	switch {
	case a.ObservedAt > b.ObservedAt:
		return -1
	case a.ObservedAt < b.ObservedAt:
		return 1
	}
	return bytes.Compare(payloadKey(a.Invite), payloadKey(b.Invite))
}

// Merge combines prior and fresh entries into one sequence with a single entry
// per ID, keeping the freshest observation, sorted ascending by ID. Neither
// input is modified.
func Merge(prior, fresh []Entry) []Entry {
	all := make([]Entry, 0, len(prior)+len(fresh))
	all = append(all, prior...)
	all = append(all, fresh...)
	slices.SortStableFunc(all, Compare)

	out := all[:0]
	for _, entry := range all {
		if n := len(out); n > 0 && out[n-1].ID == entry.ID {
			continue
		}
		out = append(out, entry)
	}
	return slices.Clip(out)
}

func payloadKey(invite Invite) []byte {
	data, err := CanonicalEncoding.Marshal(invite)
	if err != nil {
		return nil
	}
	return data
}

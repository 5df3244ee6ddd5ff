package rtdb

import (
	"encoding/json"

	"github.com/riftborne/treequeue/internal/record"
)

// encodeValue JSON-marshals a node's logical value (nil, a
// record.Record, or some other scalar/slice a malformed write left
// behind) for storage as a Redis string.
func encodeValue(v any) ([]byte, error) {
	return json.Marshal(v)
}

// decodeValue reverses encodeValue. A decoded JSON object always comes
// back as map[string]interface{}, which record.IsMapping treats the
// same as a record.Record.
func decodeValue(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// substituteServerTimestamp replaces every record.Sentinel value in v
// with now, the way a real store resolves ServerTimestamp on write
// (spec.md §3.1, §6.1). Only Record/map[string]any nodes are walked —
// the control fields that ever carry a sentinel never nest deeper.
func substituteServerTimestamp(v any, now int64) any {
	switch t := v.(type) {
	case record.Record:
		out := make(record.Record, len(t))
		for k, vv := range t {
			out[k] = substituteServerTimestamp(vv, now)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = substituteServerTimestamp(vv, now)
		}
		return out
	case record.ServerTimestamp:
		return now
	default:
		return v
	}
}

// stringFields returns the top-level string-valued fields of v, or nil
// if v isn't a mapping — the subset of a record's fields this
// adapter's index can order by (spec.md never queries on a non-string
// field).
func stringFields(v any) map[string]string {
	rec, ok := record.IsMapping(v)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(rec))
	for k, vv := range rec {
		if s, ok := vv.(string); ok {
			out[k] = s
		}
	}
	return out
}

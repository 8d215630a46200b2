package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// enumFields are argument names whose string values are case-insensitive
// enums. They are lowercased during normalization so "CRITICAL" and
// "critical" produce the same key.
var enumFields = map[string]bool{
	"severity":      true,
	"document_type": true,
	"outcome":       true,
}

// Key computes the deterministic cache key for a tool invocation. Two
// calls with semantically identical arguments and the same corpus epoch
// always yield the same key: collection arguments are sorted, enum strings
// lowercased and empty values dropped before hashing.
func Key(tool string, args map[string]any, corpusEpoch uint64) string {
	normalized := normalizeMap(args)
	encoded, err := json.Marshal(normalized)
	if err != nil {
		// Arguments are plain JSON-ish values by construction; a marshal
		// failure means a non-serializable value leaked in. Fall back to a
		// formatted rendering rather than panicking in the request path.
		encoded = []byte(fmt.Sprintf("%v", normalized))
	}

	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(encoded)
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", corpusEpoch)
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeMap(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv := normalizeValue(k, v)
		if isEmpty(nv) {
			continue
		}
		out[k] = nv
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeValue(field string, v any) any {
	switch val := v.(type) {
	case string:
		if enumFields[field] {
			return strings.ToLower(val)
		}
		return val
	case []string:
		sorted := append([]string(nil), val...)
		sort.Strings(sorted)
		return sorted
	case []any:
		// Collections of scalars sort; anything else keeps order.
		strs := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return val
			}
			strs = append(strs, s)
		}
		sort.Strings(strs)
		return strs
	case map[string]any:
		return normalizeMap(val)
	default:
		return v
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []string:
		return len(val) == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

package trajectory

import "encoding/json"

// serializeSorted produces a deterministic JSON encoding of a parsed input
// map for loop-detection signature comparisons. encoding/json already
// marshals map[string]any keys in sorted order, which is exactly the
// "serialized-input-prefix-200" comparison the loop-detection contract
// calls for.
func serializeSorted(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

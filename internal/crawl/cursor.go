package crawl

import "encoding/json"

// Cursor is the single opaque JSON document persisted per platform:
// a global feed cursor plus two independent term-keyed cursor maps. A nil
// map value in either cursor space means "exhausted — restart from newest
// next tick".
type Cursor struct {
	Global        *string           `json:"global,omitempty"`
	SearchCursors map[string]*string `json:"search_cursors,omitempty"`
	TagCursors    map[string]*string `json:"tag_cursors,omitempty"`
}

// DecodeCursor parses a platform schedule's opaque cursor blob. An empty
// or null blob decodes to a zero-value Cursor (first-ever crawl).
func DecodeCursor(blob []byte) (Cursor, error) {
	var c Cursor
	if len(blob) == 0 || string(blob) == "null" {
		return c, nil
	}
	if err := json.Unmarshal(blob, &c); err != nil {
		return Cursor{}, err
	}
	return c, nil
}

// Encode serializes the cursor back to its opaque JSON form for
// persistence.
func (c Cursor) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// mergeCursorMap implements the merge rule: incoming values overwrite
// the prior map, but a key whose incoming value is null (exhausted) is
// dropped from the result unless doing so would leave the map empty.
// Exhausted keys only need to survive long enough to be counted in
// coverage statistics, and coverage accounting reads the *incoming* map
// directly (before merge), so merge always performs the discard and the
// term restarts from the newest page next tick; the exception clause
// only prevents merge from ever returning a nil map when the platform
// has at least one term configured.
func mergeCursorMap(prior, incoming map[string]*string) map[string]*string {
	merged := make(map[string]*string, len(prior)+len(incoming))
	for k, v := range prior {
		merged[k] = v
	}
	for k, v := range incoming {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	if len(merged) == 0 && len(incoming) > 0 {
		// every incoming term exhausted on its first crawl: keep them all
		// as null so the next tick knows to restart each one explicitly
		// rather than treating the platform as having no configured terms.
		for k := range incoming {
			merged[k] = nil
		}
	}
	return merged
}

// Merge folds a DiscoveryResult's reported cursor state into c, applying
// the null-drop rule independently to the search and tag cursor
// spaces.
func (c Cursor) Merge(result DiscoveryResult) Cursor {
	out := c
	out.Global = result.NextCursor
	out.SearchCursors = mergeCursorMap(c.SearchCursors, result.SearchCursors)
	out.TagCursors = mergeCursorMap(c.TagCursors, result.TagCursors)
	return out
}

// ExhaustedCount reports how many entries in m carry a null (exhausted)
// value, for coverage accounting.
func ExhaustedCount(m map[string]*string) int {
	n := 0
	for _, v := range m {
		if v == nil {
			n++
		}
	}
	return n
}

package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Pair orders two user ids so the lower id comes first. A conversation
// between a and b is always stored under Pair(a, b).
func Pair(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// IDs turns a loosely typed id selector into a list of positive integer ids.
// It accepts a number, a numeric string, a comma-joined string or a JSON
// array mixing both. Anything unparsable is skipped, so garbage input yields
// an empty list rather than an error. Duplicates are removed, order kept.
func IDs(raw json.RawMessage) []int64 {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
	} else {
		items = []json.RawMessage{raw}
	}

	seen := make(map[int64]struct{})
	var out []int64
	add := func(id int64) {
		if id <= 0 {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, item := range items {
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			if id, err := n.Int64(); err == nil {
				add(id)
			}
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		for _, part := range strings.Split(s, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				add(id)
			}
		}
	}
	return out
}

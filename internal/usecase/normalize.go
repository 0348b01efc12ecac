package usecase

import (
	"encoding/json"
	"strings"
)

// NormalizeField turns string columns that carry serialized JSON objects or
// arrays into real nested data so rules can address them with dotted paths.
// Anything else, including numeric strings and strings that fail to parse,
// is returned unchanged.
func NormalizeField(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 2 {
		return v
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	if !(first == '{' && last == '}') && !(first == '[' && last == ']') {
		return v
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return v
	}
	return parsed
}

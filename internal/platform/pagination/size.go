package pagination

import (
	"strconv"
	"strings"
)

// ClampPageSize parses a raw page_size query value and bounds it to
// [1, max]. Blank or malformed input falls back to def.
func ClampPageSize(raw string, def, max int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	size, err := strconv.Atoi(raw)
	switch {
	case err != nil, size <= 0:
		return def
	case size > max:
		return max
	default:
		return size
	}
}

package importer

import (
	"strconv"
	"strings"
)

// Row is one imported line: free-form column name -> raw string value.
type Row map[string]string

// Columns wraps a Row with canonicalized lookup. Column names are matched
// case-insensitively with whitespace and underscores stripped, so
// "Guild_ID", "guild id" and "GUILDID" all resolve the same.
type Columns struct {
	byCanonical map[string]string
}

// CanonicalColumn normalizes a column name for lookup.
func CanonicalColumn(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch r {
		case ' ', '\t', '\n', '\r', '_':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NewColumns builds the canonical lookup for a row. On canonical
// collisions the first non-empty value wins.
func NewColumns(row Row) Columns {
	byCanonical := make(map[string]string, len(row))
	for name, value := range row {
		key := CanonicalColumn(name)
		if key == "" {
			continue
		}
		if existing, ok := byCanonical[key]; ok && existing != "" {
			continue
		}
		byCanonical[key] = value
	}
	return Columns{byCanonical: byCanonical}
}

// Text returns the first non-empty value among the given canonical names,
// tried in priority order.
func (c Columns) Text(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(c.byCanonical[key]); v != "" {
			return v
		}
	}
	return ""
}

// Number parses the first non-empty value among the given canonical names.
// Returns nil if no value parses.
func (c Columns) Number(keys ...string) *float64 {
	for _, key := range keys {
		v := strings.TrimSpace(c.byCanonical[key])
		if v == "" {
			continue
		}
		if n := ParseNumber(v); n != nil {
			return n
		}
	}
	return nil
}

// Has reports whether any of the given canonical names carries a non-empty
// value.
func (c Columns) Has(keys ...string) bool {
	return c.Text(keys...) != ""
}

// ParseNumber converts a raw cell to a number, stripping every character
// except digits, '.' and '-' first. Returns nil when nothing numeric
// remains or parsing fails; it never panics.
func ParseNumber(raw string) *float64 {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return nil
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &n
}

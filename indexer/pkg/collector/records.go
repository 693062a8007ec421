package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// ColumnName turns an arbitrary header or JSON key into a valid column
// name: runs of characters other than letters, digits and underscore become
// a single underscore, and a leading digit gets an underscore prefix.
func ColumnName(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
			lastUnderscore = r == '_'
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "_"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// ParseValue types a text cell: empty is NULL, then integer, float and
// boolean are tried before falling back to the trimmed string.
func ParseValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// DecodeRecords reads a JSON document and returns the objects found at path,
// a dot-separated list of object keys. The value found there may be an
// array of objects or a single object.
func DecodeRecords(r io.Reader, path string) ([]map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	if path != "" {
		for _, key := range strings.Split(path, ".") {
			obj, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("records path %q: %q is not inside an object", path, key)
			}
			if raw, ok = obj[key]; !ok {
				return nil, fmt.Errorf("records path %q: key %q not found", path, key)
			}
		}
	}

	switch data := raw.(type) {
	case []any:
		out := make([]map[string]any, 0, len(data))
		for i, item := range data {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("record %d is %T, not an object", i, item)
			}
			out = append(out, normalizeKeys(m))
		}
		return out, nil
	case map[string]any:
		return []map[string]any{normalizeKeys(data)}, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected JSON structure %T", raw)
	}
}

func normalizeKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[ColumnName(k)] = v
	}
	return out
}

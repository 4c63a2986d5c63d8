package pg

import (
	"strings"
	"time"
)

// --- Value helpers ---

// normalizeValue converts a scanned driver value into something that renders
// cleanly as JSON: bytes become strings, times become RFC3339.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 && x.Location() == time.UTC {
			// DATE columns scan as midnight UTC.
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339)
	default:
		return x
	}
}

// splitQualified splits "schema.table" into its parts. A bare name yields an empty schema.
func splitQualified(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i >= 0 {
		return unquote(name[:i]), unquote(name[i+1:])
	}
	return "", unquote(name)
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return strings.ToLower(s)
}

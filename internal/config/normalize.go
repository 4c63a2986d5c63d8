package config

import (
	"regexp"
	"strings"
)

// DefaultActorPrefix is prepended to normalized user ids to form memory actor ids.
const DefaultActorPrefix = "customer_"

const maxActorIDLen = 255

var (
	invalidActorChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	repeatedUnderline = regexp.MustCompile(`_{2,}`)
)

// NormalizeActorID converts a user id into a memory actor id:
//   - lowercased and trimmed
//   - runs of characters outside [a-z0-9_-] collapse to "_"
//   - leading/trailing underscores stripped
//   - prefixed (default "customer_") unless already prefixed
//
// An empty user id yields "".
func NormalizeActorID(userID, prefix string) string {
	id := strings.ToLower(strings.TrimSpace(userID))
	if id == "" {
		return ""
	}
	if prefix == "" {
		prefix = DefaultActorPrefix
	}

	id = invalidActorChars.ReplaceAllString(id, "_")
	id = repeatedUnderline.ReplaceAllString(id, "_")
	id = strings.Trim(id, "_")
	if id == "" {
		return ""
	}

	if !strings.HasPrefix(id, prefix) {
		id = prefix + id
	}
	if len(id) > maxActorIDLen {
		id = id[:maxActorIDLen]
	}
	return id
}

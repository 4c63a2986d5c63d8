package agent

import (
	"encoding/json"
	"strings"

	"github.com/titanous/json5"
)

// Reply is the structured answer the system prompt asks the model for.
type Reply struct {
	Response       string   `json:"response"`
	ToolsUsed      []string `json:"tools_used"`
	NeedToEscalate bool     `json:"need_to_escalate"`
	Domain         []string `json:"domain"`
	// Structured is false when the model ignored the JSON format and
	// Response holds the raw text.
	Structured bool `json:"-"`
}

// ParseReply extracts a Reply from model output. It tolerates code fences,
// surrounding prose, trailing commas, string booleans and a domain given as a
// string or a list. Anything unparseable becomes the response verbatim.
func ParseReply(raw string) Reply {
	text := strings.TrimSpace(raw)
	fallback := Reply{Response: text, ToolsUsed: []string{}, Domain: []string{}}
	if text == "" {
		return fallback
	}

	obj := decodeObject(stripFences(text))
	if obj == nil {
		return fallback
	}
	resp, ok := obj["response"].(string)
	if !ok {
		return fallback
	}

	return Reply{
		Response:       strings.TrimSpace(resp),
		ToolsUsed:      stringList(obj["tools_used"]),
		NeedToEscalate: truthy(obj["need_to_escalate"]),
		Domain:         stringList(obj["domain"]),
		Structured:     true,
	}
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the language tag line
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// decodeObject parses the outermost {...} in s, first as strict JSON then
// as JSON5.
func decodeObject(s string) map[string]any {
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil
	}
	body := s[start : end+1]

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err == nil {
		return obj
	}
	obj = nil
	if err := json5.Unmarshal([]byte(body), &obj); err == nil {
		return obj
	}
	return nil
}

func stringList(v any) []string {
	out := []string{}
	switch val := v.(type) {
	case string:
		for _, part := range strings.Split(val, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "si", "sí", "1":
			return true
		}
	case float64:
		return val != 0
	}
	return false
}

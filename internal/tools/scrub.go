package tools

import "regexp"

const redactedPlaceholder = "[REDACTED]"

type scrubRule struct {
	re   *regexp.Regexp
	repl string
}

// Credential patterns scrubbed from tool output before it reaches the LLM.
// Query results can contain connection strings or keys stored in tables.
var scrubRules = []scrubRule{
	// OpenAI
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), redactedPlaceholder},
	// Anthropic
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`), redactedPlaceholder},
	// GitHub tokens
	{regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36}`), redactedPlaceholder},
	// AWS access key ids and secret keys
	{regexp.MustCompile(`(?:AKIA|ASIA)[A-Z0-9]{16}`), redactedPlaceholder},
	{regexp.MustCompile(`(?i)(aws_secret_access_key|aws_session_token)\s*[:=]\s*["']?[A-Za-z0-9/+=]{20,}["']?`), "$1=" + redactedPlaceholder},
	// Passwords embedded in connection strings, keeping scheme and user.
	{regexp.MustCompile(`(?i)\b((?:postgres(?:ql)?|mysql|redis|rediss|mongodb(?:\+srv)?)://[^:/@\s]+):[^@\s]+@`), "$1:" + redactedPlaceholder + "@"},
	// Generic key=value patterns
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|bearer|authorization)\s*[:=]\s*["']?\S{8,}["']?`), redactedPlaceholder},
}

// ScrubCredentials replaces known credential patterns in text with [REDACTED].
func ScrubCredentials(text string) string {
	for _, rule := range scrubRules {
		text = rule.re.ReplaceAllString(text, rule.repl)
	}
	return text
}

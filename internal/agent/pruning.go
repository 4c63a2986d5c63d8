package agent

import (
	"fmt"
	"unicode/utf8"

	"github.com/nextlevelbuilder/querydesk/internal/providers"
)

// Tool result pruning within one run. Wide query results from early
// iterations are trimmed once the conversation approaches the window.
const (
	defaultContextWindowTokens  = 32000
	pruneSoftTrimRatio          = 0.3
	pruneHardClearRatio         = 0.5
	pruneSoftTrimMaxChars       = 4000
	pruneSoftTrimHeadChars      = 1500
	pruneSoftTrimTailChars      = 1500
	pruneHardClearPlaceholder   = "[Old tool result cleared to save context; re-run the tool if you need it again]"
	pruneKeepLastAssistantTurns = 1
	charsPerTokenEstimate       = 4
)

// pruneToolResults trims old tool results to keep the run inside
// contextWindowTokens.
//
// Two passes:
//  1. Soft trim: keep head + tail of long tool results, drop the middle.
//  2. Hard clear: replace whole tool results with a placeholder, oldest first.
//
// Results produced after the last assistant turn are never touched.
// Returns a new slice if anything changed, otherwise msgs.
func pruneToolResults(msgs []providers.Message, contextWindowTokens int) []providers.Message {
	if contextWindowTokens <= 0 || len(msgs) == 0 {
		return msgs
	}
	charWindow := float64(contextWindowTokens * charsPerTokenEstimate)

	cutoff := findAssistantCutoff(msgs, pruneKeepLastAssistantTurns)
	if cutoff < 0 {
		return msgs
	}

	totalChars := 0
	for _, m := range msgs {
		totalChars += estimateMessageChars(m)
	}
	if float64(totalChars)/charWindow < pruneSoftTrimRatio {
		return msgs
	}

	var prunable []int
	for i := 0; i < cutoff; i++ {
		if msgs[i].Role == providers.RoleTool && msgs[i].Content != "" {
			prunable = append(prunable, i)
		}
	}
	if len(prunable) == 0 {
		return msgs
	}

	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	changed := false

	for _, idx := range prunable {
		msg := out[idx]
		n := estimateMessageChars(msg)
		if n <= pruneSoftTrimMaxChars {
			continue
		}
		msg.Content = fmt.Sprintf("%s\n...\n%s\n\n[Tool result trimmed: kept first %d and last %d of %d chars.]",
			takeHead(msg.Content, pruneSoftTrimHeadChars), takeTail(msg.Content, pruneSoftTrimTailChars),
			pruneSoftTrimHeadChars, pruneSoftTrimTailChars, n)
		totalChars += estimateMessageChars(msg) - n
		out[idx] = msg
		changed = true
	}

	for _, idx := range prunable {
		if float64(totalChars)/charWindow < pruneHardClearRatio {
			break
		}
		msg := out[idx]
		before := estimateMessageChars(msg)
		msg.Content = pruneHardClearPlaceholder
		totalChars += estimateMessageChars(msg) - before
		out[idx] = msg
		changed = true
	}

	if !changed {
		return msgs
	}
	return out
}

// findAssistantCutoff returns the index of the Nth-from-last assistant message.
// Messages at or after this index are protected from pruning.
// Returns -1 if not enough assistant messages exist.
func findAssistantCutoff(msgs []providers.Message, keepLast int) int {
	if keepLast <= 0 {
		return len(msgs)
	}
	remaining := keepLast
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == providers.RoleAssistant {
			remaining--
			if remaining == 0 {
				return i
			}
		}
	}
	return -1
}

func estimateMessageChars(m providers.Message) int {
	return utf8.RuneCountInString(m.Content)
}

func takeHead(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func takeTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

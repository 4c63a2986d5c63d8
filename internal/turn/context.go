package turn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/querydesk/internal/history"
	"github.com/nextlevelbuilder/querydesk/internal/memory"
)

const (
	defaultContextTurns   = 3
	assistantPreviewRunes = 100
)

// Section headings, in render order.
const (
	headingPreferences = "## User preferences"
	headingSummaries   = "## Conversation summaries"
	headingFacts       = "## Known facts"
	headingHistory     = "## Recent conversation"
	headingCurrent     = "## Current message"
)

// ContextBuilder renders memory, recent history and the current query into
// the message handed to the agent, bounded by MaxTokens.
type ContextBuilder struct {
	MaxTokens    int // <= 0 disables the budget
	ContextTurns int // recent interactions shown; default 3
	Counter      *TokenCounter
}

// BuiltContext is a rendered context plus what went into it.
type BuiltContext struct {
	Message      string `json:"-"`
	Preferences  int    `json:"preferences"`
	Summaries    int    `json:"summaries"`
	Facts        int    `json:"facts"`
	HistoryTurns int    `json:"history_turns"`
	Dropped      int    `json:"dropped"`
	Tokens       int    `json:"tokens"`
}

// HasMemory reports whether any long-term memory made it into the context.
func (b BuiltContext) HasMemory() bool {
	return b.Preferences+b.Summaries+b.Facts > 0
}

type contextParts struct {
	userID  string
	query   string
	prefs   []memory.Record
	sums    []memory.Record
	facts   []memory.Record
	history []history.Turn
}

// Build renders the context. When the result exceeds MaxTokens, items are
// dropped in order: facts (lowest score first), summaries, oldest history
// turns, preferences. The current message is always kept, even when it alone
// exceeds the budget.
func (b *ContextBuilder) Build(userID, query string, snap *memory.Snapshot, turns []history.Turn) BuiltContext {
	n := b.ContextTurns
	if n <= 0 {
		n = defaultContextTurns
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	p := contextParts{
		userID:  userID,
		query:   query,
		prefs:   byScore(snap.Records(memory.KindPreferences)),
		sums:    byScore(snap.Records(memory.KindSummaries)),
		facts:   byScore(snap.Records(memory.KindSemantic)),
		history: append([]history.Turn(nil), turns...),
	}

	msg := p.render()
	tokens := b.Counter.Count(msg)
	dropped := 0
	for b.MaxTokens > 0 && tokens > b.MaxTokens && p.dropOne() {
		dropped++
		msg = p.render()
		tokens = b.Counter.Count(msg)
	}

	return BuiltContext{
		Message:      msg,
		Preferences:  len(p.prefs),
		Summaries:    len(p.sums),
		Facts:        len(p.facts),
		HistoryTurns: len(p.history),
		Dropped:      dropped,
		Tokens:       tokens,
	}
}

// dropOne removes the next item in budget order. Records are kept sorted by
// score descending, so the last one is the weakest.
func (p *contextParts) dropOne() bool {
	switch {
	case len(p.facts) > 0:
		p.facts = p.facts[:len(p.facts)-1]
	case len(p.sums) > 0:
		p.sums = p.sums[:len(p.sums)-1]
	case len(p.history) > 0:
		p.history = p.history[1:]
	case len(p.prefs) > 0:
		p.prefs = p.prefs[:len(p.prefs)-1]
	default:
		return false
	}
	return true
}

func (p *contextParts) render() string {
	current := fmt.Sprintf("User %s: %s", p.userID, p.query)
	if len(p.prefs)+len(p.sums)+len(p.facts)+len(p.history) == 0 {
		return current
	}

	var sb strings.Builder
	writeRecords(&sb, headingPreferences, p.prefs)
	writeRecords(&sb, headingSummaries, p.sums)
	writeRecords(&sb, headingFacts, p.facts)
	if len(p.history) > 0 {
		sb.WriteString(headingHistory)
		sb.WriteString("\n")
		for i, t := range p.history {
			fmt.Fprintf(&sb, "Interaction %d:\n", i+1)
			fmt.Fprintf(&sb, "User: %s\n", t.UserMessage)
			fmt.Fprintf(&sb, "Assistant: %s\n", preview(t.AgentResponse, assistantPreviewRunes))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(headingCurrent)
	sb.WriteString("\n")
	sb.WriteString(current)
	return sb.String()
}

func writeRecords(sb *strings.Builder, heading string, recs []memory.Record) {
	if len(recs) == 0 {
		return
	}
	sb.WriteString(heading)
	sb.WriteString("\n")
	for _, r := range recs {
		sb.WriteString("- ")
		sb.WriteString(strings.Join(strings.Fields(r.Content), " "))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func byScore(recs []memory.Record) []memory.Record {
	out := make([]memory.Record, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// preview cuts s to max runes, marking the cut with "...".
func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

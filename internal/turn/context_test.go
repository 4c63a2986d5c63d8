package turn

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/querydesk/internal/history"
	"github.com/nextlevelbuilder/querydesk/internal/memory"
)

func testSnapshot() *memory.Snapshot {
	return &memory.Snapshot{
		Preferences: []memory.Record{{ID: "p1", Content: "Prefers amounts in EUR", Score: 0.9}},
		Summaries:   []memory.Record{{ID: "s1", Content: "Asked about Q3 invoices last week", Score: 0.7}},
		Facts: []memory.Record{
			{ID: "f1", Content: "Works in the Madrid office", Score: 0.4},
			{ID: "f2", Content: "Manages the wholesale accounts team", Score: 0.8},
		},
	}
}

func testTurns(n int) []history.Turn {
	turns := make([]history.Turn, n)
	for i := range turns {
		turns[i] = history.Turn{
			UserMessage:   "question " + string(rune('A'+i)),
			AgentResponse: "answer " + string(rune('A'+i)),
			Timestamp:     time.Unix(int64(i), 0),
		}
	}
	return turns
}

func TestBuild_NoMemoryNoHistory(t *testing.T) {
	b := &ContextBuilder{Counter: EstimatingCounter()}
	got := b.Build("u1", "how many orders?", nil, nil)
	if got.Message != "User u1: how many orders?" {
		t.Errorf("message = %q", got.Message)
	}
	if got.HasMemory() || got.HistoryTurns != 0 {
		t.Errorf("unexpected stats: %+v", got)
	}
}

func TestBuild_SectionsInOrder(t *testing.T) {
	b := &ContextBuilder{Counter: EstimatingCounter()}
	got := b.Build("u1", "top customers?", testSnapshot(), testTurns(5))

	headings := []string{headingPreferences, headingSummaries, headingFacts, headingHistory, headingCurrent}
	last := -1
	for _, h := range headings {
		i := strings.Index(got.Message, h)
		if i < 0 {
			t.Fatalf("missing %q in:\n%s", h, got.Message)
		}
		if i < last {
			t.Errorf("%q out of order", h)
		}
		last = i
	}
	if !strings.HasSuffix(got.Message, headingCurrent+"\nUser u1: top customers?") {
		t.Errorf("message should end with the current query:\n%s", got.Message)
	}

	// Only the last three interactions are shown.
	if strings.Contains(got.Message, "question A") || strings.Contains(got.Message, "question B") {
		t.Errorf("old turns leaked into context:\n%s", got.Message)
	}
	if !strings.Contains(got.Message, "Interaction 3:\nUser: question E\nAssistant: answer E") {
		t.Errorf("latest turn missing:\n%s", got.Message)
	}
	if got.HistoryTurns != 3 || got.Facts != 2 || got.Preferences != 1 || got.Summaries != 1 {
		t.Errorf("stats = %+v", got)
	}

	// Facts are listed strongest first.
	if strings.Index(got.Message, "wholesale") > strings.Index(got.Message, "Madrid") {
		t.Error("facts should be ordered by score")
	}
}

func TestBuild_EmptySectionsOmitted(t *testing.T) {
	b := &ContextBuilder{Counter: EstimatingCounter()}
	snap := &memory.Snapshot{Preferences: []memory.Record{{Content: "Likes short answers", Score: 1}}}
	got := b.Build("u1", "hi", snap, nil)

	want := headingPreferences + "\n- Likes short answers\n\n" + headingCurrent + "\nUser u1: hi"
	if got.Message != want {
		t.Errorf("message = %q, want %q", got.Message, want)
	}
}

func TestBuild_AssistantPreview(t *testing.T) {
	long := strings.Repeat("é", 150)
	turns := []history.Turn{{UserMessage: "q", AgentResponse: long}}
	b := &ContextBuilder{Counter: EstimatingCounter()}
	got := b.Build("u1", "next", nil, turns)

	want := "Assistant: " + strings.Repeat("é", assistantPreviewRunes) + "...\n"
	if !strings.Contains(got.Message, want) {
		t.Errorf("preview not truncated to %d runes:\n%s", assistantPreviewRunes, got.Message)
	}

	short := b.Build("u1", "next", nil, []history.Turn{{UserMessage: "q", AgentResponse: "ok"}})
	if strings.Contains(short.Message, "ok...") {
		t.Error("short answers should not be marked as truncated")
	}
}

func TestBuild_BudgetDropOrder(t *testing.T) {
	unbounded := &ContextBuilder{Counter: EstimatingCounter()}
	snap := testSnapshot()
	turns := testTurns(2)
	full := unbounded.Build("u1", "q", snap, turns)

	tokensWithout := func(s *memory.Snapshot, tt []history.Turn) int {
		return unbounded.Build("u1", "q", s, tt).Tokens
	}

	tests := []struct {
		name      string
		budget    int
		wantFacts int
		wantSums  int
		wantTurns int
		wantPrefs int
		contains  string
		absent    string
	}{
		{
			name:      "fits",
			budget:    full.Tokens,
			wantFacts: 2, wantSums: 1, wantTurns: 2, wantPrefs: 1,
		},
		{
			name: "weakest fact first",
			budget: tokensWithout(&memory.Snapshot{
				Preferences: snap.Preferences,
				Summaries:   snap.Summaries,
				Facts:       snap.Facts[1:],
			}, turns),
			wantFacts: 1, wantSums: 1, wantTurns: 2, wantPrefs: 1,
			contains: "wholesale",
			absent:   "Madrid",
		},
		{
			name: "then summaries",
			budget: tokensWithout(&memory.Snapshot{
				Preferences: snap.Preferences,
			}, turns),
			wantFacts: 0, wantSums: 0, wantTurns: 2, wantPrefs: 1,
			absent: headingSummaries,
		},
		{
			name: "then oldest history",
			budget: tokensWithout(&memory.Snapshot{
				Preferences: snap.Preferences,
			}, turns[1:]),
			wantFacts: 0, wantSums: 0, wantTurns: 1, wantPrefs: 1,
			contains: "question B",
			absent:   "question A",
		},
		{
			name:      "current message always kept",
			budget:    1,
			wantFacts: 0, wantSums: 0, wantTurns: 0, wantPrefs: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &ContextBuilder{MaxTokens: tt.budget, Counter: EstimatingCounter()}
			got := b.Build("u1", "q", snap, turns)
			if got.Facts != tt.wantFacts || got.Summaries != tt.wantSums || got.HistoryTurns != tt.wantTurns || got.Preferences != tt.wantPrefs {
				t.Errorf("stats = %+v", got)
			}
			if tt.contains != "" && !strings.Contains(got.Message, tt.contains) {
				t.Errorf("expected %q in:\n%s", tt.contains, got.Message)
			}
			if tt.absent != "" && strings.Contains(got.Message, tt.absent) {
				t.Errorf("did not expect %q in:\n%s", tt.absent, got.Message)
			}
			if !strings.HasSuffix(got.Message, "User u1: q") {
				t.Errorf("current message dropped: %q", got.Message)
			}
		})
	}
}

func TestTokenCounterEstimate(t *testing.T) {
	c := EstimatingCounter()
	if c.Exact() {
		t.Error("estimating counter should not be exact")
	}
	if got := c.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d", got)
	}
	if got := c.Count("abcdefghi"); got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
	var nilCounter *TokenCounter
	if got := nilCounter.Count("abcd"); got != 1 {
		t.Errorf("nil counter Count = %d, want 1", got)
	}
}

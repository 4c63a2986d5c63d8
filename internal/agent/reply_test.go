package agent

import (
	"reflect"
	"testing"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Reply
	}{
		{
			name: "plain json",
			raw:  `{"response": "You have 3 open orders.", "tools_used": ["run_sql_query"], "need_to_escalate": false, "domain": ["orders"]}`,
			want: Reply{Response: "You have 3 open orders.", ToolsUsed: []string{"run_sql_query"}, Domain: []string{"orders"}, Structured: true},
		},
		{
			name: "code fence and string boolean",
			raw:  "```json\n{\"response\": \"Escalating.\", \"tools_used\": [], \"need_to_escalate\": \"true\", \"domain\": \"billing\"}\n```",
			want: Reply{Response: "Escalating.", ToolsUsed: []string{}, NeedToEscalate: true, Domain: []string{"billing"}, Structured: true},
		},
		{
			name: "prose around object",
			raw:  "Here you go:\n{\"response\": \"Done\", \"need_to_escalate\": \"false\"}\nThanks",
			want: Reply{Response: "Done", ToolsUsed: []string{}, Domain: []string{}, Structured: true},
		},
		{
			name: "trailing comma",
			raw:  `{"response": "ok", "tools_used": ["get_current_time",], "domain": "orders, billing",}`,
			want: Reply{Response: "ok", ToolsUsed: []string{"get_current_time"}, Domain: []string{"orders", "billing"}, Structured: true},
		},
		{
			name: "not json",
			raw:  "  Your last invoice was paid on March 3.  ",
			want: Reply{Response: "Your last invoice was paid on March 3.", ToolsUsed: []string{}, Domain: []string{}},
		},
		{
			name: "json without response",
			raw:  `{"answer": "x"}`,
			want: Reply{Response: `{"answer": "x"}`, ToolsUsed: []string{}, Domain: []string{}},
		},
		{
			name: "empty",
			raw:  "",
			want: Reply{Response: "", ToolsUsed: []string{}, Domain: []string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseReply(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseReply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

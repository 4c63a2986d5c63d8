package memory

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore/types"
)

type fakeAgentCore struct {
	created   []*bedrockagentcore.CreateEventInput
	retrieved []*bedrockagentcore.RetrieveMemoryRecordsInput
	pages     []*bedrockagentcore.ListEventsOutput
	listCalls int
	summaries []types.MemoryRecordSummary
}

func (f *fakeAgentCore) CreateEvent(_ context.Context, in *bedrockagentcore.CreateEventInput, _ ...func(*bedrockagentcore.Options)) (*bedrockagentcore.CreateEventOutput, error) {
	f.created = append(f.created, in)
	return &bedrockagentcore.CreateEventOutput{Event: &types.Event{EventId: aws.String("evt-1")}}, nil
}

func (f *fakeAgentCore) ListEvents(_ context.Context, _ *bedrockagentcore.ListEventsInput, _ ...func(*bedrockagentcore.Options)) (*bedrockagentcore.ListEventsOutput, error) {
	out := f.pages[f.listCalls]
	f.listCalls++
	return out, nil
}

func (f *fakeAgentCore) RetrieveMemoryRecords(_ context.Context, in *bedrockagentcore.RetrieveMemoryRecordsInput, _ ...func(*bedrockagentcore.Options)) (*bedrockagentcore.RetrieveMemoryRecordsOutput, error) {
	f.retrieved = append(f.retrieved, in)
	return &bedrockagentcore.RetrieveMemoryRecordsOutput{MemoryRecordSummaries: f.summaries}, nil
}

func (f *fakeAgentCore) ListMemoryRecords(_ context.Context, _ *bedrockagentcore.ListMemoryRecordsInput, _ ...func(*bedrockagentcore.Options)) (*bedrockagentcore.ListMemoryRecordsOutput, error) {
	return &bedrockagentcore.ListMemoryRecordsOutput{MemoryRecordSummaries: f.summaries}, nil
}

func conversational(role types.Role, text string) types.PayloadType {
	return &types.PayloadTypeMemberConversational{Value: types.Conversational{
		Role:    role,
		Content: &types.ContentMemberText{Value: text},
	}}
}

func TestAgentCore_CreateEvent(t *testing.T) {
	api := &fakeAgentCore{}
	b := &AgentCoreBackend{api: api, memoryID: "mem-1"}

	id, err := b.CreateEvent(context.Background(), Event{
		ActorID: "customer_a", SessionID: "s1", Role: RoleAssistant, Text: "hello",
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id != "evt-1" {
		t.Errorf("id = %q", id)
	}
	in := api.created[0]
	if aws.ToString(in.MemoryId) != "mem-1" || aws.ToString(in.ActorId) != "customer_a" || aws.ToString(in.SessionId) != "s1" {
		t.Errorf("unexpected input ids: %+v", in)
	}
	if in.EventTimestamp == nil {
		t.Error("event timestamp should default to now")
	}
	conv, ok := in.Payload[0].(*types.PayloadTypeMemberConversational)
	if !ok {
		t.Fatalf("payload type %T", in.Payload[0])
	}
	if conv.Value.Role != types.RoleAssistant {
		t.Errorf("role = %v", conv.Value.Role)
	}
	if text, _ := conv.Value.Content.(*types.ContentMemberText); text == nil || text.Value != "hello" {
		t.Errorf("content = %#v", conv.Value.Content)
	}
}

func TestAgentCore_ListEventsPagesAndTrims(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	api := &fakeAgentCore{pages: []*bedrockagentcore.ListEventsOutput{
		{
			Events: []types.Event{
				{EventId: aws.String("e3"), EventTimestamp: aws.Time(t0.Add(2 * time.Minute)), Payload: []types.PayloadType{conversational(types.RoleAssistant, "three")}},
				{EventId: aws.String("e2"), EventTimestamp: aws.Time(t0.Add(time.Minute)), Payload: []types.PayloadType{conversational(types.RoleUser, "two")}},
			},
			NextToken: aws.String("page2"),
		},
		{
			Events: []types.Event{
				{EventId: aws.String("e1"), EventTimestamp: aws.Time(t0), Payload: []types.PayloadType{conversational(types.RoleUser, "one")}},
			},
		},
	}}
	b := &AgentCoreBackend{api: api, memoryID: "mem-1"}

	events, err := b.ListEvents(context.Background(), "customer_a", "s1", 2)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if api.listCalls != 2 {
		t.Errorf("list calls = %d, want 2", api.listCalls)
	}
	if len(events) != 2 || events[0].Text != "two" || events[1].Text != "three" {
		t.Fatalf("events = %+v, want [two three]", events)
	}
	if events[1].Role != RoleAssistant {
		t.Errorf("role = %q", events[1].Role)
	}
}

func TestAgentCore_RetrieveRecords(t *testing.T) {
	now := time.Now()
	api := &fakeAgentCore{summaries: []types.MemoryRecordSummary{
		{
			MemoryRecordId: aws.String("r1"),
			Content:        &types.MemoryContentMemberText{Value: "Prefers weekly reports"},
			Score:          aws.Float64(0.82),
			Namespaces:     []string{"/preferences/customer_a"},
			CreatedAt:      aws.Time(now),
		},
		{
			MemoryRecordId: aws.String("r2"),
			Content:        &types.MemoryContentMemberText{Value: ""},
		},
	}}
	b := &AgentCoreBackend{api: api, memoryID: "mem-1"}

	recs, err := b.RetrieveRecords(context.Background(), "/preferences/customer_a", "reports", 3)
	if err != nil {
		t.Fatalf("RetrieveRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1 (empty content skipped)", len(recs))
	}
	if recs[0].ID != "r1" || recs[0].Score != 0.82 || recs[0].Namespace != "/preferences/customer_a" {
		t.Errorf("record = %+v", recs[0])
	}

	in := api.retrieved[0]
	if aws.ToString(in.Namespace) != "/preferences/customer_a" {
		t.Errorf("namespace = %q", aws.ToString(in.Namespace))
	}
	if in.SearchCriteria == nil || aws.ToString(in.SearchCriteria.SearchQuery) != "reports" || aws.ToInt32(in.SearchCriteria.TopK) != 3 {
		t.Errorf("search criteria = %+v", in.SearchCriteria)
	}
}

func TestToSDKRole(t *testing.T) {
	tests := map[Role]types.Role{
		RoleUser:      types.RoleUser,
		RoleAssistant: types.RoleAssistant,
		RoleTool:      types.RoleTool,
		RoleOther:     types.RoleOther,
		Role("weird"): types.RoleOther,
	}
	for in, want := range tests {
		if got := toSDKRole(in); got != want {
			t.Errorf("toSDKRole(%q) = %q, want %q", in, got, want)
		}
	}
}

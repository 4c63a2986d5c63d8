package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentcore/types"
)

// agentCoreAPI is the subset of the bedrockagentcore client used here.
type agentCoreAPI interface {
	CreateEvent(ctx context.Context, in *bedrockagentcore.CreateEventInput, optFns ...func(*bedrockagentcore.Options)) (*bedrockagentcore.CreateEventOutput, error)
	ListEvents(ctx context.Context, in *bedrockagentcore.ListEventsInput, optFns ...func(*bedrockagentcore.Options)) (*bedrockagentcore.ListEventsOutput, error)
	RetrieveMemoryRecords(ctx context.Context, in *bedrockagentcore.RetrieveMemoryRecordsInput, optFns ...func(*bedrockagentcore.Options)) (*bedrockagentcore.RetrieveMemoryRecordsOutput, error)
	ListMemoryRecords(ctx context.Context, in *bedrockagentcore.ListMemoryRecordsInput, optFns ...func(*bedrockagentcore.Options)) (*bedrockagentcore.ListMemoryRecordsOutput, error)
}

// AgentCoreBackend stores events in AWS Bedrock AgentCore Memory. The
// service's memory strategies extract preference, summary and semantic
// records from those events asynchronously.
type AgentCoreBackend struct {
	api      agentCoreAPI
	memoryID string
}

// NewAgentCoreBackend creates a backend for the given memory resource id.
func NewAgentCoreBackend(awsCfg aws.Config, memoryID string) *AgentCoreBackend {
	return &AgentCoreBackend{
		api:      bedrockagentcore.NewFromConfig(awsCfg),
		memoryID: memoryID,
	}
}

func (b *AgentCoreBackend) Name() string { return "agentcore" }

// CreateEvent writes a single conversational payload.
func (b *AgentCoreBackend) CreateEvent(ctx context.Context, ev Event) (string, error) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	out, err := b.api.CreateEvent(ctx, &bedrockagentcore.CreateEventInput{
		MemoryId:       aws.String(b.memoryID),
		ActorId:        aws.String(ev.ActorID),
		SessionId:      aws.String(ev.SessionID),
		EventTimestamp: aws.Time(ts),
		Payload: []types.PayloadType{
			&types.PayloadTypeMemberConversational{
				Value: types.Conversational{
					Role:    toSDKRole(ev.Role),
					Content: &types.ContentMemberText{Value: ev.Text},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("agentcore create event: %w", err)
	}
	if out.Event == nil {
		return "", nil
	}
	return aws.ToString(out.Event.EventId), nil
}

// ListEvents pages through the session's events and returns the latest max,
// oldest first.
func (b *AgentCoreBackend) ListEvents(ctx context.Context, actorID, sessionID string, max int) ([]Event, error) {
	if max <= 0 {
		max = 100
	}
	var (
		events []Event
		token  *string
	)
	for {
		out, err := b.api.ListEvents(ctx, &bedrockagentcore.ListEventsInput{
			MemoryId:        aws.String(b.memoryID),
			ActorId:         aws.String(actorID),
			SessionId:       aws.String(sessionID),
			IncludePayloads: aws.Bool(true),
			MaxResults:      aws.Int32(100),
			NextToken:       token,
		})
		if err != nil {
			return nil, fmt.Errorf("agentcore list events: %w", err)
		}
		for _, e := range out.Events {
			events = append(events, fromSDKEvent(e)...)
		}
		token = out.NextToken
		if token == nil || aws.ToString(token) == "" {
			break
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	if len(events) > max {
		events = events[len(events)-max:]
	}
	return events, nil
}

// RetrieveRecords runs a semantic search in namespace.
func (b *AgentCoreBackend) RetrieveRecords(ctx context.Context, namespace, query string, topK int) ([]Record, error) {
	if topK <= 0 {
		topK = 5
	}
	out, err := b.api.RetrieveMemoryRecords(ctx, &bedrockagentcore.RetrieveMemoryRecordsInput{
		MemoryId:  aws.String(b.memoryID),
		Namespace: aws.String(namespace),
		SearchCriteria: &types.SearchCriteria{
			SearchQuery: aws.String(query),
			TopK:        aws.Int32(int32(topK)),
		},
		MaxResults: aws.Int32(int32(topK)),
	})
	if err != nil {
		return nil, fmt.Errorf("agentcore retrieve %s: %w", namespace, err)
	}
	return fromSDKRecords(namespace, out.MemoryRecordSummaries), nil
}

// ListRecords pages through every record in namespace, newest first.
func (b *AgentCoreBackend) ListRecords(ctx context.Context, namespace string, max int) ([]Record, error) {
	if max <= 0 {
		max = 100
	}
	var (
		recs  []Record
		token *string
	)
	for len(recs) < max {
		out, err := b.api.ListMemoryRecords(ctx, &bedrockagentcore.ListMemoryRecordsInput{
			MemoryId:   aws.String(b.memoryID),
			Namespace:  aws.String(namespace),
			MaxResults: aws.Int32(int32(min(max-len(recs), 100))),
			NextToken:  token,
		})
		if err != nil {
			return nil, fmt.Errorf("agentcore list records %s: %w", namespace, err)
		}
		recs = append(recs, fromSDKRecords(namespace, out.MemoryRecordSummaries)...)
		token = out.NextToken
		if token == nil || aws.ToString(token) == "" {
			break
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if len(recs) > max {
		recs = recs[:max]
	}
	return recs, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (b *AgentCoreBackend) Close() error { return nil }

func toSDKRole(r Role) types.Role {
	switch r {
	case RoleUser:
		return types.RoleUser
	case RoleAssistant:
		return types.RoleAssistant
	case RoleTool:
		return types.RoleTool
	default:
		return types.RoleOther
	}
}

func fromSDKEvent(e types.Event) []Event {
	var out []Event
	for _, p := range e.Payload {
		conv, ok := p.(*types.PayloadTypeMemberConversational)
		if !ok {
			continue
		}
		text, ok := conv.Value.Content.(*types.ContentMemberText)
		if !ok {
			continue
		}
		out = append(out, Event{
			ID:        aws.ToString(e.EventId),
			ActorID:   aws.ToString(e.ActorId),
			SessionID: aws.ToString(e.SessionId),
			Role:      Role(conv.Value.Role),
			Text:      text.Value,
			Timestamp: aws.ToTime(e.EventTimestamp),
		})
	}
	return out
}

func fromSDKRecords(namespace string, summaries []types.MemoryRecordSummary) []Record {
	recs := make([]Record, 0, len(summaries))
	for _, s := range summaries {
		text, ok := s.Content.(*types.MemoryContentMemberText)
		if !ok || text.Value == "" {
			continue
		}
		ns := namespace
		if len(s.Namespaces) > 0 {
			ns = s.Namespaces[0]
		}
		recs = append(recs, Record{
			ID:        aws.ToString(s.MemoryRecordId),
			Namespace: ns,
			Content:   text.Value,
			Score:     aws.ToFloat64(s.Score),
			CreatedAt: aws.ToTime(s.CreatedAt),
		})
	}
	return recs
}

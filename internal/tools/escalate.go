package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/querydesk/internal/memory"
	"github.com/nextlevelbuilder/querydesk/internal/store"
)

// EventRecorder persists conversational events. Implemented by memory.Manager.
type EventRecorder interface {
	RecordEvent(ctx context.Context, actorID, sessionID string, role memory.Role, text string) error
}

// EscalateTool hands the conversation to a human agent.
type EscalateTool struct {
	events EventRecorder // may be nil
	now    func() time.Time
}

func NewEscalateTool(events EventRecorder) *EscalateTool {
	return &EscalateTool{events: events, now: time.Now}
}

func (t *EscalateTool) Name() string { return "escalate_to_human" }

func (t *EscalateTool) Description() string {
	return "Escalate the conversation to a human agent. Use when the customer asks for a person, is upset, " +
		"or the request cannot be answered from the database or knowledge base."
}

func (t *EscalateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Why the conversation needs a human.",
			},
			"customer_info": map[string]interface{}{
				"type":        "string",
				"description": "Extra context for the human agent.",
			},
		},
		"required": []string{"reason"},
	}
}

func (t *EscalateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	reason := strings.TrimSpace(stringArg(args, "reason"))
	if reason == "" {
		return ErrorResult("reason parameter is required")
	}
	info := strings.TrimSpace(stringArg(args, "customer_info"))
	id := t.now().Format("20060102150405")

	actor, session := store.ActorIDFromContext(ctx), store.SessionIDFromContext(ctx)
	slog.Info("escalation created", "escalation_id", id, "actor", actor, "session", session, "reason", reason)

	if t.events != nil && actor != "" {
		note := fmt.Sprintf("ESCALATION %s: %s", id, reason)
		if info != "" {
			note += " | " + info
		}
		if err := t.events.RecordEvent(ctx, actor, session, memory.RoleOther, note); err != nil {
			slog.Warn("escalation event not recorded", "escalation_id", id, "error", err)
		}
	}

	return NewResult(fmt.Sprintf(
		"Escalated to a human agent.\nEscalation ID: %s\nReason: %s\nEstimated wait: 3-5 minutes\n"+
			"Tell the customer to keep this conversation open, or to quote the escalation ID if they come back later.",
		id, reason))
}

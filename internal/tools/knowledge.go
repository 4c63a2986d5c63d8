package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/querydesk/internal/knowledge"
)

const (
	knowledgeTopResults   = 3
	knowledgePreviewRunes = 800
)

const knowledgeFallback = "No specific information was found in the knowledge base for this question. " +
	"Answer from the database if possible, ask the customer to rephrase with more specific terms, or escalate to a human."

// SearchKnowledgeTool searches the document knowledge base.
type SearchKnowledgeTool struct {
	retriever knowledge.Retriever
}

func NewSearchKnowledgeTool(r knowledge.Retriever) *SearchKnowledgeTool {
	return &SearchKnowledgeTool{retriever: r}
}

func (t *SearchKnowledgeTool) Name() string { return "search_knowledge_base" }

func (t *SearchKnowledgeTool) Description() string {
	return "Search the company knowledge base (policies, product docs, FAQs) for passages relevant to a question. " +
		"Use it for questions the database cannot answer."
}

func (t *SearchKnowledgeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for, phrased as a question or keywords.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchKnowledgeTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return ErrorResult("query parameter is required")
	}

	passages, err := t.retriever.Retrieve(ctx, query)
	if err != nil {
		// Retrieval outages degrade to the fallback; the turn continues.
		slog.Warn("knowledge search failed", "error", err)
		return NewResult(knowledgeFallback).WithError(err)
	}
	if len(passages) == 0 {
		return NewResult(knowledgeFallback)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d results for %q\n", len(passages), query)
	for i, p := range passages[:min(len(passages), knowledgeTopResults)] {
		fmt.Fprintf(&sb, "\nResult %d (relevance %.2f", i+1, p.Score)
		if p.Source != "" {
			fmt.Fprintf(&sb, ", source %s", p.Source)
		}
		sb.WriteString(")\n")
		sb.WriteString(preview(p.Content, knowledgePreviewRunes))
		sb.WriteString("\n")
	}
	if extra := len(passages) - knowledgeTopResults; extra > 0 {
		fmt.Fprintf(&sb, "\n%d more results were found; a more specific query will narrow them down.", extra)
	}
	return NewResult(strings.TrimRight(sb.String(), "\n"))
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

package pipeline

import (
	"context"
	"strings"
)

// Reference tool names.
const (
	ToolSearch    = "search_data"
	ToolSummarize = "summarize_data"
	ToolResearch  = "research_data"
)

// ToolCall is a planned tool invocation.
type ToolCall struct {
	Tool string
	Args map[string]any
}

// Planner decides which tools answer a query.
type Planner interface {
	Plan(ctx context.Context, query string) ([]ToolCall, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, query string) ([]ToolCall, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, query string) ([]ToolCall, error) {
	return f(ctx, query)
}

var (
	researchWords = []string{"research", "market", "report", "analysis", "analyze", "compare", "landscape"}
	deepWords     = []string{"deep", "comprehensive", "in-depth", "thorough"}
	summaryWords  = []string{"summarize", "summarise", "summary", "tl;dr", "overview"}
)

// KeywordPlanner routes a query to one reference tool by keyword.
type KeywordPlanner struct{}

// Plan implements Planner.
func (KeywordPlanner) Plan(_ context.Context, query string) ([]ToolCall, error) {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, researchWords):
		depth := "standard"
		if containsAny(q, deepWords) {
			depth = "deep"
		}
		return []ToolCall{{Tool: ToolResearch, Args: map[string]any{"query": query, "depth": depth}}}, nil
	case containsAny(q, summaryWords):
		return []ToolCall{{Tool: ToolSummarize, Args: map[string]any{"content": query, "focus": "key_findings"}}}, nil
	default:
		return []ToolCall{{Tool: ToolSearch, Args: map[string]any{"query": query, "max_results": 5}}}, nil
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// Tool is a capability the agent can call.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, args map[string]any) (string, error)
}

type funcTool struct {
	name, description string
	fn                func(ctx context.Context, args map[string]any) (string, error)
}

func (t funcTool) Name() string        { return t.name }
func (t funcTool) Description() string { return t.description }
func (t funcTool) Call(ctx context.Context, args map[string]any) (string, error) {
	return t.fn(ctx, args)
}

// NewTool wraps fn as a Tool.
func NewTool(name, description string, fn func(ctx context.Context, args map[string]any) (string, error)) Tool {
	return funcTool{name: name, description: description, fn: fn}
}

// ReferenceTools returns deterministic search, summarize and research tools
// for demos and tests. Their output length grows with the requested depth so
// dynamic pricing has something to measure.
func ReferenceTools() []Tool {
	return []Tool{
		NewTool(ToolSearch, "Basic web search - returns raw search results", searchData),
		NewTool(ToolSummarize, "Content summarization - LLM-powered analysis", summarizeData),
		NewTool(ToolResearch, "Full market research - multi-source report", researchData),
	}
}

func searchData(_ context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	n := intArg(args, "max_results", 5)
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d. %s\n   source-%04d: %s\n", i, headline(query, i), checksum(query, i)%10000, snippet(query, i))
	}
	return b.String(), nil
}

func summarizeData(_ context.Context, args map[string]any) (string, error) {
	content := stringArg(args, "content")
	if content == "" {
		return "", fmt.Errorf("content is required")
	}
	focus := stringArg(args, "focus")
	if focus == "" {
		focus = "key_findings"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Summary (%s) of %d characters of content:\n", focus, len([]rune(content)))
	for i := 1; i <= 3; i++ {
		fmt.Fprintf(&b, "- %s\n", snippet(content, i))
	}
	return b.String(), nil
}

func researchData(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	sections := 4
	if stringArg(args, "depth") == "deep" {
		sections = 12
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Research report: %s\n\n", query)
	for i := 1; i <= sections; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "## %d. %s\n", i, headline(query, i))
		for j := 1; j <= 3; j++ {
			fmt.Fprintf(&b, "%s ", snippet(query, i*10+j))
		}
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Sources consulted: %d\n", sections*3)
	return b.String(), nil
}

var (
	angles = []string{"Market overview", "Key players", "Pricing trends", "Adoption signals", "Risks", "Outlook"}
	verbs  = []string{"shows steady growth in", "points to consolidation around", "highlights demand for", "suggests caution about"}
)

func headline(topic string, i int) string {
	return fmt.Sprintf("%s: %s", angles[(i-1)%len(angles)], topic)
}

func snippet(topic string, i int) string {
	h := checksum(topic, i)
	return fmt.Sprintf("Analysis %d %s %s according to %d independent sources.", i, verbs[h%uint32(len(verbs))], topic, 2+h%7)
}

func checksum(s string, i int) uint32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s#%d", s, i)
	return h.Sum32()
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordPlanner(t *testing.T) {
	cases := []struct {
		query string
		tool  string
		depth string
	}{
		{"latest AI agent news", ToolSearch, ""},
		{"summarize this article about payments", ToolSummarize, ""},
		{"market research on agent payments", ToolResearch, "standard"},
		{"comprehensive market analysis of x402", ToolResearch, "deep"},
	}
	for _, tc := range cases {
		calls, err := KeywordPlanner{}.Plan(context.Background(), tc.query)
		require.NoError(t, err)
		require.Len(t, calls, 1, tc.query)
		assert.Equal(t, tc.tool, calls[0].Tool, tc.query)
		if tc.depth != "" {
			assert.Equal(t, tc.depth, calls[0].Args["depth"], tc.query)
		}
	}
}

func TestInvokeRecordsToolUseAndResult(t *testing.T) {
	a := NewAgent(KeywordPlanner{}, ReferenceTools())
	turn, err := a.Invoke(context.Background(), Request{Query: "agent payments"})
	require.NoError(t, err)

	assert.Equal(t, 0, turn.Offset)
	assert.Contains(t, turn.Text, `Search results for "agent payments"`)
	require.Len(t, turn.Entries, 4) // user, tool_use, tool_result, assistant text

	inv := Invocations(turn.Entries)
	require.Len(t, inv, 1)
	assert.Equal(t, ToolSearch, inv[0].Tool)
	assert.Equal(t, turn.Text, inv[0].Output)
}

func TestInvokeExplicitTool(t *testing.T) {
	a := NewAgent(KeywordPlanner{}, ReferenceTools())
	turn, err := a.Invoke(context.Background(), Request{Query: "x402", Tool: ToolResearch, Args: map[string]any{"depth": "deep"}})
	require.NoError(t, err)

	inv := Invocations(turn.Entries)
	require.Len(t, inv, 1)
	assert.Equal(t, ToolResearch, inv[0].Tool)
	assert.Equal(t, "deep", inv[0].Arguments["depth"])
	assert.Greater(t, len(inv[0].Output), 1500)
}

func TestSecondInvocationSeesOnlyItsOwnEntries(t *testing.T) {
	a := NewAgent(KeywordPlanner{}, ReferenceTools())
	first, err := a.Invoke(context.Background(), Request{Query: "market research on payments"})
	require.NoError(t, err)

	second, err := a.Invoke(context.Background(), Request{Query: "plain lookup"})
	require.NoError(t, err)

	assert.Equal(t, len(first.Entries), second.Offset)
	inv := Invocations(second.Entries)
	require.Len(t, inv, 1)
	assert.Equal(t, ToolSearch, inv[0].Tool)
	assert.Equal(t, 8, a.Len())
}

func TestConcurrentInvocationsDoNotShareEntries(t *testing.T) {
	a := NewAgent(KeywordPlanner{}, ReferenceTools())
	var wg sync.WaitGroup
	results := make([]Turn, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			turn, err := a.Invoke(context.Background(), Request{Query: "q"})
			assert.NoError(t, err)
			results[i] = turn
		}(i)
	}
	wg.Wait()
	for _, turn := range results {
		assert.Len(t, Invocations(turn.Entries), 1)
	}
	assert.Equal(t, 80, a.Len())
}

func TestToolFailureKeepsPartialEntries(t *testing.T) {
	failing := NewTool("flaky", "fails", func(context.Context, map[string]any) (string, error) {
		return "", errors.New("upstream down")
	})
	planner := PlannerFunc(func(context.Context, string) ([]ToolCall, error) {
		return []ToolCall{{Tool: ToolSearch, Args: map[string]any{"query": "a"}}, {Tool: "flaky"}}, nil
	})
	a := NewAgent(planner, append(ReferenceTools(), failing))

	turn, err := a.Invoke(context.Background(), Request{Query: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")

	inv := Invocations(turn.Entries)
	require.Len(t, inv, 2)
	assert.NotEmpty(t, inv[0].Output)
	assert.Empty(t, inv[1].Output, "failed results carry no output")
}

func TestUnknownToolFails(t *testing.T) {
	a := NewAgent(KeywordPlanner{}, nil)
	_, err := a.Invoke(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown tool"))
}

func TestHistoryTrimKeepsAbsoluteOffsets(t *testing.T) {
	a := NewAgent(KeywordPlanner{}, ReferenceTools(), WithMaxHistory(10))
	var last Turn
	for i := 0; i < 10; i++ {
		turn, err := a.Invoke(context.Background(), Request{Query: "q"})
		require.NoError(t, err)
		last = turn
	}
	assert.Equal(t, 36, last.Offset)
	assert.Equal(t, 40, a.Len())
	assert.LessOrEqual(t, len(a.History()), 10)
	assert.Len(t, Invocations(last.Entries), 1)
}

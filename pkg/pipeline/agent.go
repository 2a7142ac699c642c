// Package pipeline runs the tool-using agent that performs paid work.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxHistory bounds the agent's shared history.
const DefaultMaxHistory = 2000

// Request is one unit of paid work.
type Request struct {
	Query string
	// Tool, when set, bypasses planning and runs that tool directly.
	Tool string
	Args map[string]any
}

// Turn is the result of one Invoke.
type Turn struct {
	Text string
	// Offset is the history position at which this invocation started.
	Offset int
	// Entries are the history entries this invocation produced.
	Entries []Entry
}

// Agent plans tool calls for a request, runs them and keeps an
// append-only history shared by all invocations.
type Agent struct {
	planner Planner
	tools   map[string]Tool
	ordered []Tool
	log     *zap.Logger

	mu         sync.Mutex
	history    []Entry
	dropped    int            // entries trimmed from the front of history
	inflight   map[string]int // invocation id -> absolute start offset
	maxHistory int
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(l *zap.Logger) AgentOption {
	return func(a *Agent) { a.log = l }
}

// WithMaxHistory bounds the shared history.
func WithMaxHistory(n int) AgentOption {
	return func(a *Agent) { a.maxHistory = n }
}

// NewAgent creates an Agent with the given planner and tools.
func NewAgent(planner Planner, tools []Tool, opts ...AgentOption) *Agent {
	a := &Agent{
		planner:    planner,
		tools:      make(map[string]Tool, len(tools)),
		ordered:    append([]Tool(nil), tools...),
		log:        zap.NewNop(),
		inflight:   make(map[string]int),
		maxHistory: DefaultMaxHistory,
	}
	for _, t := range tools {
		a.tools[t.Name()] = t
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tools returns the registered tools in registration order.
func (a *Agent) Tools() []Tool {
	return append([]Tool(nil), a.ordered...)
}

// Invoke runs req and returns the entries it added to the history. On error
// the returned Turn still holds the entries produced before the failure.
func (a *Agent) Invoke(ctx context.Context, req Request) (Turn, error) {
	id := uuid.NewString()
	offset := a.begin(id)
	defer a.end(id)

	a.append(Entry{Invocation: id, Role: RoleUser, Blocks: []Block{{Kind: BlockText, Text: req.Query}}})

	turn := Turn{Offset: offset}
	calls, err := a.plan(ctx, req)
	if err != nil {
		turn.Entries = a.since(offset, id)
		return turn, fmt.Errorf("plan: %w", err)
	}

	var outputs []string
	for i, call := range calls {
		useID := fmt.Sprintf("%s-%d", id[:8], i)
		a.append(Entry{Invocation: id, Role: RoleAssistant, Blocks: []Block{
			{Kind: BlockToolUse, ToolUseID: useID, Tool: call.Tool, Input: call.Args},
		}})

		out, err := a.call(ctx, call)
		if err != nil {
			a.append(Entry{Invocation: id, Role: RoleTool, Blocks: []Block{
				{Kind: BlockToolResult, ToolUseID: useID, Text: err.Error(), IsError: true},
			}})
			turn.Entries = a.since(offset, id)
			return turn, fmt.Errorf("tool %s: %w", call.Tool, err)
		}
		a.append(Entry{Invocation: id, Role: RoleTool, Blocks: []Block{
			{Kind: BlockToolResult, ToolUseID: useID, Text: out},
		}})
		outputs = append(outputs, out)
	}

	turn.Text = strings.Join(outputs, "\n\n")
	a.append(Entry{Invocation: id, Role: RoleAssistant, Blocks: []Block{{Kind: BlockText, Text: turn.Text}}})
	turn.Entries = a.since(offset, id)

	a.log.Debug("invocation complete",
		zap.String("invocation", id),
		zap.Int("tool_calls", len(calls)),
		zap.Int("entries", len(turn.Entries)))
	return turn, nil
}

func (a *Agent) plan(ctx context.Context, req Request) ([]ToolCall, error) {
	if req.Tool != "" {
		args := map[string]any{"query": req.Query}
		for k, v := range req.Args {
			args[k] = v
		}
		return []ToolCall{{Tool: req.Tool, Args: args}}, nil
	}
	return a.planner.Plan(ctx, req.Query)
}

func (a *Agent) call(ctx context.Context, call ToolCall) (string, error) {
	tool, ok := a.tools[call.Tool]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Tool)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return tool.Call(ctx, call.Args)
}

// History returns a copy of the retained history.
func (a *Agent) History() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.history...)
}

// Len returns the absolute history length, including trimmed entries.
func (a *Agent) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped + len(a.history)
}

func (a *Agent) begin(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	offset := a.dropped + len(a.history)
	a.inflight[id] = offset
	return offset
}

func (a *Agent) end(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inflight, id)
	a.trim()
}

func (a *Agent) append(e Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, e)
}

// since returns this invocation's entries from offset on. Concurrent
// invocations interleave in the shared history, so entries are matched by
// invocation id as well.
func (a *Agent) since(offset int, id string) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := max(offset-a.dropped, 0)
	var out []Entry
	for _, e := range a.history[i:] {
		if e.Invocation == id {
			out = append(out, e)
		}
	}
	return out
}

// trim drops the oldest half of an oversized history, never past the start
// of an in-flight invocation. Caller must hold a.mu.
func (a *Agent) trim() {
	if a.maxHistory <= 0 || len(a.history) <= a.maxHistory {
		return
	}
	cut := len(a.history) - a.maxHistory/2
	for _, off := range a.inflight {
		cut = min(cut, off-a.dropped)
	}
	if cut <= 0 {
		return
	}
	a.history = append([]Entry(nil), a.history[cut:]...)
	a.dropped += cut
}

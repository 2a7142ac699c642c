package pipeline

import "github.com/pario-ai/agentpay/pkg/models"

// Role is the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockKind discriminates a Block.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// Block is one content block of a history entry.
type Block struct {
	Kind      BlockKind
	Text      string
	ToolUseID string
	Tool      string
	Input     map[string]any
	IsError   bool
}

// Entry is one message in the agent's history.
type Entry struct {
	Invocation string
	Role       Role
	Blocks     []Block
}

// Invocations extracts the pricing signal of every tool call in entries,
// pairing each tool use with its result. A tool use with no result yet is
// priced with empty output.
func Invocations(entries []Entry) []models.CreditCostContext {
	var out []models.CreditCostContext
	index := make(map[string]int)
	for _, e := range entries {
		for _, b := range e.Blocks {
			switch b.Kind {
			case BlockToolUse:
				index[b.ToolUseID] = len(out)
				out = append(out, models.CreditCostContext{Tool: b.Tool, Arguments: b.Input})
			case BlockToolResult:
				if i, ok := index[b.ToolUseID]; ok && !b.IsError {
					out[i].Output = b.Text
				}
			}
		}
	}
	return out
}

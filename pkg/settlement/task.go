package settlement

import (
	"context"
	"fmt"

	"github.com/pario-ai/agentpay/pkg/a2a"
	"github.com/pario-ai/agentpay/pkg/models"
	"github.com/pario-ai/agentpay/pkg/pipeline"
	"github.com/pario-ai/agentpay/pkg/x402"
	"go.uber.org/zap"
)

// MetaTools is the completed-event metadata key listing the invoked tools.
const MetaTools = "tools"

// metaComplexity is the optional message metadata key naming a pricing tier.
const metaComplexity = "complexity"

// TaskExecutor is the a2a.Executor selling the coordinator's work.
type TaskExecutor struct {
	coord *Coordinator
}

// NewTaskExecutor creates a TaskExecutor for c.
func NewTaskExecutor(c *Coordinator) *TaskExecutor {
	return &TaskExecutor{coord: c}
}

var _ a2a.Executor = (*TaskExecutor)(nil)

// Execute reports Submitted on first contact, Working while the pipeline
// runs, then Completed with the cost, Failed with zero credits, or Canceled
// with zero credits when ctx ends first.
func (e *TaskExecutor) Execute(ctx context.Context, rc a2a.RequestContext, q *a2a.EventQueue) error {
	if rc.Task == nil {
		q.Enqueue(&a2a.Task{
			Kind:      "task",
			ID:        rc.TaskID,
			ContextID: rc.ContextID,
			Status:    a2a.TaskStatus{State: a2a.TaskSubmitted},
		})
	}
	q.Enqueue(a2a.NewStatusUpdate(rc.TaskID, rc.ContextID, a2a.TaskWorking, "Processing request...", false))

	r, err := e.coord.Execute(ctx, models.BindingA2A, e.request(rc.Message))
	if err != nil {
		if ctx.Err() != nil {
			// Dropped by the store when tasks/cancel got there first.
			q.Enqueue(a2a.NewStatusUpdate(rc.TaskID, rc.ContextID, a2a.TaskCanceled, "Task cancelled.", true).WithCredits(0))
			return nil
		}
		e.coord.log.Error("execute task", zap.String("task_id", rc.TaskID), zap.Error(err))
		q.Enqueue(a2a.NewStatusUpdate(rc.TaskID, rc.ContextID, a2a.TaskFailed,
			fmt.Sprintf("Error: %v", err), true).WithCredits(0))
		return nil
	}

	ev := a2a.NewStatusUpdate(rc.TaskID, rc.ContextID, a2a.TaskCompleted, r.Response, true).WithCredits(r.Credits)
	ev.Metadata[MetaTools] = r.Tools
	q.Enqueue(ev)
	return nil
}

// Cancel reports Canceled with zero credits. It is valid in any
// non-terminal state.
func (e *TaskExecutor) Cancel(_ context.Context, rc a2a.RequestContext, q *a2a.EventQueue) error {
	q.Enqueue(a2a.NewStatusUpdate(rc.TaskID, rc.ContextID, a2a.TaskCanceled, "Task cancelled.", true).WithCredits(0))
	return nil
}

func (e *TaskExecutor) request(msg *a2a.Message) pipeline.Request {
	req := pipeline.Request{Query: msg.Text()}
	if msg == nil {
		return req
	}
	if tier, ok := msg.Metadata[metaComplexity].(string); ok {
		if tool, ok := e.coord.pricing.ToolFor(tier); ok {
			req.Tool = tool
		}
	}
	return req
}

// TerminalHook returns the a2a.TerminalHook that settles completed tasks.
// The a2a server calls it once per task, so each task is redeemed at most
// once. The payment grant is read from the request context set by
// x402.Require.
func (c *Coordinator) TerminalHook() a2a.TerminalHook {
	return func(ctx context.Context, task a2a.Task, ev *a2a.StatusUpdateEvent) {
		if ev.Status.State != a2a.TaskCompleted {
			return
		}
		credits, ok := ev.CreditsUsed()
		if !ok || credits <= 0 {
			return
		}
		query := firstUserText(task)
		r := Receipt{Response: ev.Status.Message.Text(), Credits: credits, Tools: toolsOf(ev.Metadata)}

		grant, ok := x402.GrantFromContext(ctx)
		if !ok {
			entry := models.SettlementEntry{
				Binding: models.BindingA2A,
				PlanID:  c.planID,
				Query:   query,
				Credits: credits,
				State:   models.SettlementFailed,
				Error:   "no payment grant on request",
			}
			c.log.Error("completed task has no payment grant", zap.String("task_id", task.ID))
			c.record(ctx, entry)
			return
		}
		_, _ = c.Settle(ctx, models.BindingA2A, grant, r, query)
	}
}

func firstUserText(task a2a.Task) string {
	for _, m := range task.History {
		if m != nil && m.Role == a2a.RoleUser {
			return m.Text()
		}
	}
	return ""
}

func toolsOf(meta map[string]any) []string {
	switch v := meta[MetaTools].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

package a2a

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskSubmitted TaskState = "submitted"
	TaskWorking   TaskState = "working"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCanceled  TaskState = "canceled"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// MetaCreditsUsed is the status-update metadata key carrying the cost of a
// terminal task.
const MetaCreditsUsed = "creditsUsed"

// TaskStatus is a task's current state plus an optional message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Task is the unit of work tracked by the server.
type Task struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	History   []*Message     `json:"history,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StatusUpdateEvent reports a task state transition.
type StatusUpdateEvent struct {
	Kind      string         `json:"kind"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Status    TaskStatus     `json:"status"`
	Final     bool           `json:"final"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Event is a *Task or a *StatusUpdateEvent.
type Event interface {
	eventTaskID() string
}

func (t *Task) eventTaskID() string              { return t.ID }
func (e *StatusUpdateEvent) eventTaskID() string { return e.TaskID }

// NewStatusUpdate builds a status event. Terminal states are always final.
func NewStatusUpdate(taskID, contextID string, state TaskState, text string, final bool) *StatusUpdateEvent {
	ev := &StatusUpdateEvent{
		Kind:      "status-update",
		TaskID:    taskID,
		ContextID: contextID,
		Status: TaskStatus{
			State:     state,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		},
		Final: final || state.Terminal(),
	}
	if text != "" {
		msg := NewTextMessage(RoleAgent, text)
		msg.TaskID = taskID
		msg.ContextID = contextID
		ev.Status.Message = msg
	}
	return ev
}

// WithCredits sets the creditsUsed metadata and returns e.
func (e *StatusUpdateEvent) WithCredits(credits int64) *StatusUpdateEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any, 1)
	}
	e.Metadata[MetaCreditsUsed] = credits
	return e
}

// CreditsUsed reads the creditsUsed metadata.
func (e *StatusUpdateEvent) CreditsUsed() (int64, bool) {
	return intParam(e.Metadata, MetaCreditsUsed)
}

// DecodeEvent decodes a task or status-update result object.
func DecodeEvent(data []byte) (Event, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch probe.Kind {
	case "task":
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		return &t, nil
	case "status-update":
		var e StatusUpdateEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode status update: %w", err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("decode event: unsupported kind %q", probe.Kind)
	}
}

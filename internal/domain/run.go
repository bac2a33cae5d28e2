package domain

import "encoding/json"

// RunStatus mirrors the job states reported by the remote service.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether no further polling can change the outcome.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	}
	return false
}

// Run is a snapshot of one remote execution.
type Run struct {
	ID        RunID
	ThreadID  ThreadID
	Status    RunStatus
	ToolCalls []ToolCall // set only when Status is RunRequiresAction
}

// ToolCall is a pending function call the remote run needs answered.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult answers one ToolCall. Output is always a JSON document,
// either the value or an error descriptor.
type ToolResult struct {
	CallID string
	Name   string
	Output string
}

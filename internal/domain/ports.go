package domain

import (
	"context"
	"encoding/json"
)

// ConversationStore defines conversation persistence. Implementations must make
// AppendMessage atomic per user so concurrent writers never interleave partial writes.
type ConversationStore interface {
	// GetConversation returns ErrNotFound when the user has no conversation yet.
	GetConversation(ctx context.Context, userID UserID) (*Conversation, error)
	// CreateConversation returns ErrAlreadyExists if one exists for conv.UserID.
	CreateConversation(ctx context.Context, conv *Conversation) error
	// AppendMessage returns ErrNotFound when the user has no conversation.
	AppendMessage(ctx context.Context, userID UserID, msg Message) error
	// RecentMessages returns the last limit messages in append order, or an
	// empty slice when the user has no conversation.
	RecentMessages(ctx context.Context, userID UserID, limit int) ([]Message, error)
	// ClearHistory empties the message log and keeps the thread id.
	ClearHistory(ctx context.Context, userID UserID) error
	Ping(ctx context.Context) error
}

// JobStore is the remote asynchronous reasoning service.
type JobStore interface {
	CreateThread(ctx context.Context) (ThreadID, error)
	// SubmitJob adds content to the thread and starts a run of assistant on it.
	SubmitJob(ctx context.Context, assistant AssistantID, threadID ThreadID, content string) (RunID, error)
	PollJob(ctx context.Context, threadID ThreadID, runID RunID) (*Run, error)
	// ResolveJob returns the text of the newest message on the thread.
	ResolveJob(ctx context.Context, threadID ThreadID, runID RunID) (string, error)
	// ResumeJob hands the whole batch of tool results back in one call.
	ResumeJob(ctx context.Context, threadID ThreadID, runID RunID, results []ToolResult) error
}

// EventSink receives the events of one turn. Exactly one terminal event is sent last.
type EventSink interface {
	Send(ev Event) error
}

// LLMClient performs one model step for the in-process job runner.
type LLMClient interface {
	Step(ctx context.Context, req StepRequest) (*StepResult, error)
}

// ToolSpec describes a callable function to a model.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object.
	Parameters json.RawMessage
}

// Exchange is one entry of a thread as the in-process runner keeps it.
type Exchange struct {
	Role        Role
	Text        string
	ToolCalls   []ToolCall   // assistant turns that requested tools
	ToolResults []ToolResult // answers to the previous assistant turn
}

type StepRequest struct {
	Instructions string
	History      []Exchange
	Tools        []ToolSpec
}

// StepResult is either final text or a set of tool calls to service first.
type StepResult struct {
	Text      string
	ToolCalls []ToolCall
}

// Package openai runs turns on the OpenAI Assistants API: each user owns a thread,
// each turn is a run, and function calls pause the run in requires_action.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	oai "github.com/sashabaranov/go-openai"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint, e.g. for a proxy or a test server.
	BaseURL string
}

// JobStore implements domain.JobStore on top of threads and runs.
type JobStore struct {
	client *oai.Client
}

func NewJobStore(cfg Config) (*JobStore, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	c := oai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return &JobStore{client: oai.NewClientWithConfig(c)}, nil
}

// EnsureAssistant returns the assistant with id when set, otherwise it creates one
// from def with the given function tools.
func (s *JobStore) EnsureAssistant(ctx context.Context, id domain.AssistantID, def domain.Assistant, tools []domain.ToolSpec) (domain.Assistant, error) {
	if id != "" {
		a, err := s.client.RetrieveAssistant(ctx, string(id))
		if err != nil {
			return domain.Assistant{}, remoteErr("retrieve assistant", err)
		}
		return toAssistant(a), nil
	}

	req := oai.AssistantRequest{
		Model:        def.Model,
		Name:         &def.Name,
		Instructions: &def.Instructions,
		Tools:        make([]oai.AssistantTool, 0, len(tools)),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, oai.AssistantTool{
			Type: oai.AssistantToolTypeFunction,
			Function: &oai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	a, err := s.client.CreateAssistant(ctx, req)
	if err != nil {
		return domain.Assistant{}, remoteErr("create assistant", err)
	}
	return toAssistant(a), nil
}

func (s *JobStore) CreateThread(ctx context.Context) (domain.ThreadID, error) {
	th, err := s.client.CreateThread(ctx, oai.ThreadRequest{})
	if err != nil {
		return "", remoteErr("create thread", err)
	}
	return domain.ThreadID(th.ID), nil
}

func (s *JobStore) SubmitJob(ctx context.Context, assistant domain.AssistantID, threadID domain.ThreadID, content string) (domain.RunID, error) {
	_, err := s.client.CreateMessage(ctx, string(threadID), oai.MessageRequest{
		Role:    string(oai.ThreadMessageRoleUser),
		Content: content,
	})
	if err != nil {
		return "", remoteErr("create message", err)
	}

	run, err := s.client.CreateRun(ctx, string(threadID), oai.RunRequest{
		AssistantID: string(assistant),
	})
	if err != nil {
		return "", remoteErr("create run", err)
	}
	return domain.RunID(run.ID), nil
}

func (s *JobStore) PollJob(ctx context.Context, threadID domain.ThreadID, runID domain.RunID) (*domain.Run, error) {
	run, err := s.client.RetrieveRun(ctx, string(threadID), string(runID))
	if err != nil {
		return nil, remoteErr("retrieve run", err)
	}

	out := &domain.Run{
		ID:       runID,
		ThreadID: threadID,
		Status:   domain.RunStatus(run.Status),
	}
	if run.RequiredAction != nil && run.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
	}
	return out, nil
}

// ResolveJob reads the newest message of the thread.
func (s *JobStore) ResolveJob(ctx context.Context, threadID domain.ThreadID, _ domain.RunID) (string, error) {
	limit := 1
	order := "desc"
	list, err := s.client.ListMessage(ctx, string(threadID), &limit, &order, nil, nil, nil)
	if err != nil {
		return "", remoteErr("list messages", err)
	}
	if len(list.Messages) == 0 {
		return "", fmt.Errorf("%w: thread %s has no messages", domain.ErrRemoteFault, threadID)
	}

	for _, c := range list.Messages[0].Content {
		if c.Text != nil {
			return c.Text.Value, nil
		}
	}
	return "", fmt.Errorf("%w: newest message on thread %s has no text", domain.ErrRemoteFault, threadID)
}

func (s *JobStore) ResumeJob(ctx context.Context, threadID domain.ThreadID, runID domain.RunID, results []domain.ToolResult) error {
	req := oai.SubmitToolOutputsRequest{
		ToolOutputs: make([]oai.ToolOutput, 0, len(results)),
	}
	for _, r := range results {
		req.ToolOutputs = append(req.ToolOutputs, oai.ToolOutput{
			ToolCallID: r.CallID,
			Output:     r.Output,
		})
	}

	if _, err := s.client.SubmitToolOutputs(ctx, string(threadID), string(runID), req); err != nil {
		return remoteErr("submit tool outputs", err)
	}
	return nil
}

func toAssistant(a oai.Assistant) domain.Assistant {
	out := domain.Assistant{ID: domain.AssistantID(a.ID), Model: a.Model}
	if a.Name != nil {
		out.Name = *a.Name
	}
	if a.Instructions != nil {
		out.Instructions = *a.Instructions
	}
	return out
}

// remoteErr tags API failures as ErrRemoteFault, or ErrNotFound for a 404.
func remoteErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("openai %s: %w", op, err)
	}

	var apiErr *oai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("openai %s: %w: %w", op, domain.ErrNotFound, err)
	}
	return fmt.Errorf("openai %s: %w: %w", op, domain.ErrRemoteFault, err)
}

// Package scripted provides a domain.JobStore that replays a fixed sequence of run
// states. It backs the poller and orchestrator tests and the HTTP tests.
package scripted

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

// Step is what one PollJob call reports.
type Step struct {
	Status    domain.RunStatus
	ToolCalls []domain.ToolCall
	Err       error
}

// Submission records one SubmitJob call.
type Submission struct {
	Assistant domain.AssistantID
	ThreadID  domain.ThreadID
	Content   string
}

// JobStore replays Steps for every run. Once the script is exhausted the last step
// repeats. The zero value completes immediately with an empty result.
type JobStore struct {
	Steps  []Step
	Result string

	CreateThreadErr error
	SubmitErr       error
	ResolveErr      error
	ResumeErr       error

	// OnPoll is called before each poll with its 1-based index.
	OnPoll func(n int)

	mu          sync.Mutex
	threads     int
	runs        int
	polls       int
	ops         []string
	submissions []Submission
	resumes     [][]domain.ToolResult
}

func New(steps ...Step) *JobStore {
	return &JobStore{Steps: steps}
}

// Statuses builds a script of plain status steps.
func Statuses(ss ...domain.RunStatus) []Step {
	out := make([]Step, len(ss))
	for i, s := range ss {
		out[i] = Step{Status: s}
	}
	return out
}

func (s *JobStore) CreateThread(_ context.Context) (domain.ThreadID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "create_thread")
	if s.CreateThreadErr != nil {
		return "", s.CreateThreadErr
	}
	s.threads++
	return domain.ThreadID(fmt.Sprintf("thread_%d", s.threads)), nil
}

func (s *JobStore) SubmitJob(_ context.Context, assistant domain.AssistantID, threadID domain.ThreadID, content string) (domain.RunID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "submit")
	if s.SubmitErr != nil {
		return "", s.SubmitErr
	}
	s.runs++
	s.submissions = append(s.submissions, Submission{Assistant: assistant, ThreadID: threadID, Content: content})
	return domain.RunID(fmt.Sprintf("run_%d", s.runs)), nil
}

func (s *JobStore) PollJob(_ context.Context, threadID domain.ThreadID, runID domain.RunID) (*domain.Run, error) {
	s.mu.Lock()
	s.polls++
	n := s.polls
	s.ops = append(s.ops, "poll")
	hook := s.OnPoll

	step := Step{Status: domain.RunCompleted}
	switch {
	case n <= len(s.Steps):
		step = s.Steps[n-1]
	case len(s.Steps) > 0:
		step = s.Steps[len(s.Steps)-1]
	}
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &domain.Run{
		ID:        runID,
		ThreadID:  threadID,
		Status:    step.Status,
		ToolCalls: step.ToolCalls,
	}, nil
}

func (s *JobStore) ResolveJob(_ context.Context, _ domain.ThreadID, _ domain.RunID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "resolve")
	if s.ResolveErr != nil {
		return "", s.ResolveErr
	}
	return s.Result, nil
}

func (s *JobStore) ResumeJob(_ context.Context, _ domain.ThreadID, _ domain.RunID, results []domain.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "resume")
	if s.ResumeErr != nil {
		return s.ResumeErr
	}
	s.resumes = append(s.resumes, append([]domain.ToolResult(nil), results...))
	return nil
}

func (s *JobStore) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

func (s *JobStore) ThreadsCreated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads
}

// Ops returns the call log, e.g. ["create_thread", "submit", "poll", "resolve"].
func (s *JobStore) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *JobStore) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Submission(nil), s.submissions...)
}

// Resumes returns every batch handed to ResumeJob, in order.
func (s *JobStore) Resumes() [][]domain.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]domain.ToolResult(nil), s.resumes...)
}

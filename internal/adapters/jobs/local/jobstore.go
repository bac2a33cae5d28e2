// Package local is an in-process domain.JobStore. Threads and runs live in memory
// and every run drives a domain.LLMClient in its own goroutine, pausing in
// requires_action whenever the model asks for tools.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

const (
	DefaultPauseTimeout = 10 * time.Minute
	DefaultMaxSteps     = 8
)

type Options struct {
	// Assistant supplies the instructions every run starts from.
	Assistant domain.Assistant
	Tools     []domain.ToolSpec
	// PauseTimeout is how long a run waits for tool output before it expires.
	PauseTimeout time.Duration
	// MaxSteps bounds model calls per run; a run that keeps asking for tools fails.
	MaxSteps int
	Logger   *slog.Logger
}

var errStepLimit = errors.New("model step limit reached")

type thread struct {
	history []domain.Exchange
	active  domain.RunID
}

type run struct {
	id        domain.RunID
	threadID  domain.ThreadID
	status    domain.RunStatus
	toolCalls []domain.ToolCall
	resume    chan []domain.ToolResult
	lastErr   error
}

type JobStore struct {
	llm  domain.LLMClient
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	threads map[domain.ThreadID]*thread
	runs    map[domain.RunID]*run
}

func NewJobStore(llm domain.LLMClient, opts Options) *JobStore {
	if opts.PauseTimeout <= 0 {
		opts.PauseTimeout = DefaultPauseTimeout
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Assistant.ID == "" {
		opts.Assistant.ID = "asst_local"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobStore{
		llm:     llm,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		threads: make(map[domain.ThreadID]*thread),
		runs:    make(map[domain.RunID]*run),
	}
}

// Assistant is the handle turns should be submitted with.
func (s *JobStore) Assistant() domain.Assistant {
	return s.opts.Assistant
}

// Close cancels every unfinished run and waits for the workers to exit.
func (s *JobStore) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *JobStore) CreateThread(_ context.Context) (domain.ThreadID, error) {
	id := domain.ThreadID("thread_" + uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[id] = &thread{}
	return id, nil
}

func (s *JobStore) SubmitJob(_ context.Context, assistant domain.AssistantID, threadID domain.ThreadID, content string) (domain.RunID, error) {
	if assistant != s.opts.Assistant.ID {
		return "", fmt.Errorf("%w: unknown assistant %s", domain.ErrNotFound, assistant)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return "", fmt.Errorf("%w: thread %s", domain.ErrNotFound, threadID)
	}
	if th.active != "" {
		if r := s.runs[th.active]; r != nil && !r.status.Terminal() {
			return "", fmt.Errorf("%w: thread %s already has active run %s", domain.ErrAlreadyExists, threadID, th.active)
		}
	}

	r := &run{
		id:       domain.RunID("run_" + ulid.Make().String()),
		threadID: threadID,
		status:   domain.RunQueued,
		resume:   make(chan []domain.ToolResult, 1),
	}
	th.history = append(th.history, domain.Exchange{Role: domain.RoleUser, Text: content})
	th.active = r.id
	s.runs[r.id] = r

	s.wg.Add(1)
	go s.execute(r)

	return r.id, nil
}

func (s *JobStore) PollJob(_ context.Context, threadID domain.ThreadID, runID domain.RunID) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(threadID, runID)
	if err != nil {
		return nil, err
	}
	return &domain.Run{
		ID:        r.id,
		ThreadID:  r.threadID,
		Status:    r.status,
		ToolCalls: append([]domain.ToolCall(nil), r.toolCalls...),
	}, nil
}

// ResolveJob returns the newest assistant text on the thread.
func (s *JobStore) ResolveJob(_ context.Context, threadID domain.ThreadID, runID domain.RunID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(threadID, runID); err != nil {
		return "", err
	}
	th := s.threads[threadID]
	for i := len(th.history) - 1; i >= 0; i-- {
		ex := th.history[i]
		if ex.Role == domain.RoleAssistant && len(ex.ToolCalls) == 0 {
			return ex.Text, nil
		}
	}
	return "", fmt.Errorf("%w: thread %s has no assistant message", domain.ErrNotFound, threadID)
}

// ResumeJob accepts results only while the run waits for them, and only when every
// pending call is answered.
func (s *JobStore) ResumeJob(_ context.Context, threadID domain.ThreadID, runID domain.RunID, results []domain.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.lookup(threadID, runID)
	if err != nil {
		return err
	}
	if r.status != domain.RunRequiresAction {
		return fmt.Errorf("%w: run %s is %s", domain.ErrInvalidArgument, runID, r.status)
	}

	answered := make(map[string]bool, len(results))
	for _, res := range results {
		answered[res.CallID] = true
	}
	for _, tc := range r.toolCalls {
		if !answered[tc.ID] {
			return fmt.Errorf("%w: missing output for tool call %s", domain.ErrInvalidArgument, tc.ID)
		}
	}

	r.status = domain.RunInProgress
	r.toolCalls = nil
	r.resume <- append([]domain.ToolResult(nil), results...)
	return nil
}

func (s *JobStore) lookup(threadID domain.ThreadID, runID domain.RunID) (*run, error) {
	r, ok := s.runs[runID]
	if !ok || r.threadID != threadID {
		return nil, fmt.Errorf("%w: run %s on thread %s", domain.ErrNotFound, runID, threadID)
	}
	return r, nil
}

func (s *JobStore) execute(r *run) {
	defer s.wg.Done()

	log := s.opts.Logger.With("thread_id", r.threadID, "run_id", r.id)
	s.setStatus(r, domain.RunInProgress, nil)

	for step := 0; ; step++ {
		if step >= s.opts.MaxSteps {
			s.finish(r, domain.RunFailed, errStepLimit)
			log.Warn("run failed", "error", errStepLimit)
			return
		}

		res, err := s.llm.Step(s.ctx, s.request(r.threadID))
		if err != nil {
			if s.ctx.Err() != nil {
				s.finish(r, domain.RunCancelled, err)
				return
			}
			s.finish(r, domain.RunFailed, err)
			log.Warn("run failed", "error", err)
			return
		}

		if len(res.ToolCalls) == 0 {
			s.mu.Lock()
			th := s.threads[r.threadID]
			th.history = append(th.history, domain.Exchange{Role: domain.RoleAssistant, Text: res.Text})
			r.status = domain.RunCompleted
			s.mu.Unlock()
			log.Debug("run completed", "steps", step+1)
			return
		}

		s.mu.Lock()
		th := s.threads[r.threadID]
		th.history = append(th.history, domain.Exchange{
			Role:      domain.RoleAssistant,
			Text:      res.Text,
			ToolCalls: res.ToolCalls,
		})
		r.status = domain.RunRequiresAction
		r.toolCalls = res.ToolCalls
		s.mu.Unlock()

		results, status := s.await(r)
		if status != "" {
			s.finish(r, status, nil)
			log.Info("run ended while waiting for tool output", "status", status)
			return
		}

		s.mu.Lock()
		th.history = append(th.history, domain.Exchange{Role: domain.RoleUser, ToolResults: results})
		s.mu.Unlock()
	}
}

// await blocks until tool output arrives. A non-empty status means the run ended.
func (s *JobStore) await(r *run) ([]domain.ToolResult, domain.RunStatus) {
	timer := time.NewTimer(s.opts.PauseTimeout)
	defer timer.Stop()

	select {
	case results := <-r.resume:
		return results, ""
	case <-timer.C:
	case <-s.ctx.Done():
		return nil, domain.RunCancelled
	}

	// A resume may have raced the timer while holding the lock.
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case results := <-r.resume:
		return results, ""
	default:
		r.status = domain.RunExpired
		r.toolCalls = nil
		return nil, domain.RunExpired
	}
}

func (s *JobStore) request(threadID domain.ThreadID) domain.StepRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.StepRequest{
		Instructions: s.opts.Assistant.Instructions,
		History:      append([]domain.Exchange(nil), s.threads[threadID].history...),
		Tools:        s.opts.Tools,
	}
}

func (s *JobStore) setStatus(r *run, status domain.RunStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.status = status
	r.lastErr = err
}

func (s *JobStore) finish(r *run, status domain.RunStatus, err error) {
	s.setStatus(r, status, err)
	s.mu.Lock()
	r.toolCalls = nil
	s.mu.Unlock()
}

// LastError returns the failure recorded for a failed or cancelled run.
func (s *JobStore) LastError(runID domain.RunID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok {
		return r.lastErr
	}
	return nil
}

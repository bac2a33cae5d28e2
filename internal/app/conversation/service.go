package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/finadvisor/internal/app/history"
	"github.com/PabloGalante/finadvisor/internal/app/runloop"
	"github.com/PabloGalante/finadvisor/internal/domain"
	"github.com/PabloGalante/finadvisor/internal/observability"
)

type Options struct {
	// SerializeTurns holds a per-user lock from thread lookup until the run ends,
	// so a user's turns never interleave. When false, concurrent turns for one
	// user race on the same thread.
	SerializeTurns bool
	// CancelOnDisconnect stops polling when the request context ends. When false
	// the run is followed to its terminal state even if nobody is listening.
	CancelOnDisconnect bool
}

func DefaultOptions() Options {
	return Options{SerializeTurns: true}
}

// Service runs chat turns: it persists the user message, submits the job and
// hands the run to the poller.
type Service struct {
	history   *history.Service
	jobs      domain.JobStore
	poller    *runloop.Poller
	assistant domain.Assistant
	opts      Options
	locks     *userLocks
}

func NewService(
	hist *history.Service,
	jobs domain.JobStore,
	poller *runloop.Poller,
	assistant domain.Assistant,
	opts Options,
) *Service {
	return &Service{
		history:   hist,
		jobs:      jobs,
		poller:    poller,
		assistant: assistant,
		opts:      opts,
		locks:     newUserLocks(),
	}
}

type SendMessageInput struct {
	UserID domain.UserID
	Text   string
}

// Turn is a submitted run waiting to be streamed.
type Turn struct {
	UserID      domain.UserID
	ThreadID    domain.ThreadID
	RunID       domain.RunID
	UserMessage domain.Message

	release func()
}

// StartTurn validates the input, persists the user message and submits the job.
// Validation failures are reported before any remote call. The returned Turn must
// be passed to StreamTurn.
func (s *Service) StartTurn(ctx context.Context, in SendMessageInput) (*Turn, error) {
	userID := domain.UserID(strings.TrimSpace(string(in.UserID)))
	text := strings.TrimSpace(in.Text)

	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrInvalidArgument)
	}

	log := observability.LoggerFromContext(ctx).With("user_id", userID)

	release := func() {}
	if s.opts.SerializeTurns {
		var err error
		release, err = s.locks.acquire(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	turn, err := s.startTurn(ctx, userID, text)
	if err != nil {
		release()
		log.Error("failed to start turn", "error", err)
		return nil, err
	}
	turn.release = release

	observability.TurnsStarted.Inc()
	log.Info("turn started", "thread_id", turn.ThreadID, "run_id", turn.RunID)
	return turn, nil
}

func (s *Service) startTurn(ctx context.Context, userID domain.UserID, text string) (*Turn, error) {
	threadID, err := s.history.GetOrCreateThread(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Persisted before submission so the log reflects what was sent even if the run fails.
	userMsg, err := s.history.AppendMessage(ctx, userID, domain.RoleUser, text)
	if err != nil {
		return nil, err
	}

	runID, err := s.jobs.SubmitJob(ctx, s.assistant.ID, threadID, text)
	if err != nil {
		return nil, fmt.Errorf("submitting job: %w", err)
	}

	return &Turn{
		UserID:      userID,
		ThreadID:    threadID,
		RunID:       runID,
		UserMessage: userMsg,
	}, nil
}

// StreamTurn polls the run to completion, writing events to sink. It always ends
// with exactly one terminal event.
func (s *Service) StreamTurn(ctx context.Context, turn *Turn, sink domain.EventSink) runloop.Result {
	if turn.release != nil {
		defer turn.release()
	}

	if !s.opts.CancelOnDisconnect {
		ctx = context.WithoutCancel(ctx)
	}

	return s.poller.Run(ctx, runloop.Job{
		UserID:   turn.UserID,
		ThreadID: turn.ThreadID,
		RunID:    turn.RunID,
	}, sink)
}

// SendMessage runs a whole turn. The error is non-nil only when the turn could not
// be started; run failures are reported through sink and the Result.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput, sink domain.EventSink) (runloop.Result, error) {
	turn, err := s.StartTurn(ctx, in)
	if err != nil {
		return runloop.Result{}, err
	}
	return s.StreamTurn(ctx, turn, sink), nil
}

func (s *Service) RecentMessages(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	if strings.TrimSpace(string(userID)) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	return s.history.RecentMessages(ctx, userID, limit)
}

func (s *Service) ClearHistory(ctx context.Context, userID domain.UserID) error {
	if strings.TrimSpace(string(userID)) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	return s.history.ClearHistory(ctx, userID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.history.Ping(ctx)
}

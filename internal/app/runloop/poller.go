package runloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PabloGalante/finadvisor/internal/app/tools"
	"github.com/PabloGalante/finadvisor/internal/domain"
	"github.com/PabloGalante/finadvisor/internal/observability"
)

const (
	DefaultMaxAttempts = 30
	DefaultInterval    = time.Second
)

// Frames sent to the caller.
const (
	MsgProcessingTools = "Processing data request..."
	MsgTimedOut        = "Request timed out"
	MsgAnalysisError   = "Error during analysis"
	MsgCancelled       = "Request cancelled"
)

// Outcome labels, also used as metric label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeExpired   = "expired"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
	OutcomeAborted   = "aborted"
)

// Appender persists the assistant message of a completed run.
type Appender interface {
	AppendMessage(ctx context.Context, userID domain.UserID, role domain.Role, content string) (domain.Message, error)
}

// ToolDispatcher services the tool calls of a paused run.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, tctx tools.ToolContext, calls []domain.ToolCall) []domain.ToolResult
}

type Options struct {
	MaxAttempts int
	Interval    time.Duration
	Sleeper     Sleeper
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Sleeper == nil {
		o.Sleeper = TimerSleeper{}
	}
	return o
}

// Job identifies the run one Poller loop drives.
type Job struct {
	UserID   domain.UserID
	ThreadID domain.ThreadID
	RunID    domain.RunID
}

// Result describes how a loop ended.
type Result struct {
	Outcome  string
	Attempts int
	Terminal domain.Event
	// Err is the fault behind an "error" or "aborted" outcome.
	Err error
}

// Poller drives one run to a terminal outcome and streams its progress.
//
// Every poll counts towards MaxAttempts, including polls that found the run
// waiting for tool output. The ceiling is only checked while the run is queued or
// in progress, so time spent servicing tools is not budgeted separately.
type Poller struct {
	jobs       domain.JobStore
	history    Appender
	dispatcher ToolDispatcher
	opts       Options
}

func NewPoller(jobs domain.JobStore, history Appender, dispatcher ToolDispatcher, opts Options) *Poller {
	return &Poller{
		jobs:       jobs,
		history:    history,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
	}
}

func (p *Poller) MaxAttempts() int { return p.opts.MaxAttempts }

// Run polls job until it ends and sends exactly one terminal event to sink as the
// last frame. Failures never escape as errors; they are reported through sink.
func (p *Poller) Run(ctx context.Context, job Job, sink domain.EventSink) Result {
	log := observability.LoggerFromContext(ctx).With(
		"user_id", job.UserID,
		"thread_id", job.ThreadID,
		"run_id", job.RunID,
	)

	st := &loop{p: p, job: job, sink: sink, log: log}
	res := st.run(ctx)

	if err := sink.Send(res.Terminal); err != nil {
		log.Warn("failed to send terminal event", "error", err)
	}

	observability.RunOutcomes.WithLabelValues(res.Outcome).Inc()
	observability.PollAttempts.Observe(float64(res.Attempts))

	attrs := []any{"outcome", res.Outcome, "attempts", res.Attempts}
	if res.Err != nil {
		log.Error("run ended", append(attrs, "error", res.Err)...)
	} else {
		log.Info("run ended", attrs...)
	}
	return res
}

type loop struct {
	p       *Poller
	job     Job
	sink    domain.EventSink
	log     *slog.Logger
	attempt int

	sinkFailed bool
}

func (l *loop) run(ctx context.Context) Result {
	maxAttempts := l.p.opts.MaxAttempts

	for {
		if err := ctx.Err(); err != nil {
			return l.aborted(err)
		}

		run, err := l.p.jobs.PollJob(ctx, l.job.ThreadID, l.job.RunID)
		l.attempt++
		if err != nil {
			return l.fault(fmt.Errorf("polling run: %w", err))
		}
		if run == nil {
			return l.fault(fmt.Errorf("%w: empty poll response", domain.ErrRemoteFault))
		}

		l.log.Debug("run polled", "attempt", l.attempt, "status", run.Status)

		switch run.Status {
		case domain.RunCompleted:
			return l.complete(ctx)

		case domain.RunRequiresAction:
			if err := l.serviceTools(ctx, run); err != nil {
				return l.fault(err)
			}
			l.status(domain.StatusEvent(MsgProcessingTools))

		case domain.RunFailed, domain.RunCancelled, domain.RunExpired:
			return Result{
				Outcome:  string(run.Status),
				Attempts: l.attempt,
				Terminal: domain.ErrorEvent(fmt.Sprintf("Analysis %s", run.Status)),
			}

		default:
			if l.attempt >= maxAttempts {
				return Result{
					Outcome:  OutcomeTimeout,
					Attempts: l.attempt,
					Terminal: domain.ErrorEvent(MsgTimedOut),
					Err:      fmt.Errorf("%w: run still %s after %d polls", domain.ErrTimeout, run.Status, l.attempt),
				}
			}
			l.status(domain.StatusEvent(fmt.Sprintf("Analyzing (%d/%d)...", l.attempt, maxAttempts)))
		}

		if err := l.p.opts.Sleeper.Sleep(ctx, l.p.opts.Interval); err != nil {
			return l.aborted(err)
		}
	}
}

func (l *loop) complete(ctx context.Context) Result {
	text, err := l.p.jobs.ResolveJob(ctx, l.job.ThreadID, l.job.RunID)
	if err != nil {
		return l.fault(fmt.Errorf("resolving run: %w", err))
	}

	if _, err := l.p.history.AppendMessage(ctx, l.job.UserID, domain.RoleAssistant, text); err != nil {
		return l.fault(fmt.Errorf("persisting assistant message: %w", err))
	}

	return Result{
		Outcome:  OutcomeCompleted,
		Attempts: l.attempt,
		Terminal: domain.MessageEvent(text),
	}
}

func (l *loop) serviceTools(ctx context.Context, run *domain.Run) error {
	if len(run.ToolCalls) == 0 {
		return fmt.Errorf("%w: run requires action but lists no tool calls", domain.ErrRemoteFault)
	}

	results := l.p.dispatcher.Dispatch(ctx, tools.ToolContext{
		UserID:   l.job.UserID,
		ThreadID: l.job.ThreadID,
		RunID:    l.job.RunID,
	}, run.ToolCalls)

	if err := l.p.jobs.ResumeJob(ctx, l.job.ThreadID, l.job.RunID, results); err != nil {
		return fmt.Errorf("submitting tool outputs: %w", err)
	}

	l.log.Info("tool outputs submitted", "attempt", l.attempt, "calls", len(results))
	return nil
}

// status sends a progress frame. A consumer that went away does not stop the loop.
func (l *loop) status(ev domain.Event) {
	if err := l.sink.Send(ev); err != nil && !l.sinkFailed {
		l.sinkFailed = true
		l.log.Warn("status event not delivered, polling continues", "error", err)
	}
}

func (l *loop) fault(err error) Result {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return l.aborted(err)
	}
	return Result{
		Outcome:  OutcomeError,
		Attempts: l.attempt,
		Terminal: domain.ErrorEvent(MsgAnalysisError),
		Err:      err,
	}
}

func (l *loop) aborted(err error) Result {
	return Result{
		Outcome:  OutcomeAborted,
		Attempts: l.attempt,
		Terminal: domain.ErrorEvent(MsgCancelled),
		Err:      err,
	}
}

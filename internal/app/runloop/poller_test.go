package runloop_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/finadvisor/internal/adapters/jobs/scripted"
	"github.com/PabloGalante/finadvisor/internal/adapters/storage/memory"
	"github.com/PabloGalante/finadvisor/internal/app/history"
	"github.com/PabloGalante/finadvisor/internal/app/runloop"
	"github.com/PabloGalante/finadvisor/internal/app/tools"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordingSink) Send(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

type fakeSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	return ctx.Err()
}

type failingAppender struct{ err error }

func (f failingAppender) AppendMessage(context.Context, domain.UserID, domain.Role, string) (domain.Message, error) {
	return domain.Message{}, f.err
}

type fixture struct {
	jobs    *scripted.JobStore
	history *history.Service
	sleeper *fakeSleeper
	sink    *recordingSink
	job     runloop.Job
}

func newFixture(t *testing.T, steps ...scripted.Step) *fixture {
	t.Helper()

	jobs := scripted.New(steps...)
	hist := history.NewService(memory.NewConversationStore(), jobs)

	ctx := context.Background()
	threadID, err := hist.GetOrCreateThread(ctx, "u1")
	require.NoError(t, err)
	_, err = hist.AppendMessage(ctx, "u1", domain.RoleUser, "How is revenue trending?")
	require.NoError(t, err)

	runID, err := jobs.SubmitJob(ctx, "asst_1", threadID, "How is revenue trending?")
	require.NoError(t, err)

	return &fixture{
		jobs:    jobs,
		history: hist,
		sleeper: &fakeSleeper{},
		sink:    &recordingSink{},
		job:     runloop.Job{UserID: "u1", ThreadID: threadID, RunID: runID},
	}
}

func (f *fixture) poller(appender runloop.Appender) *runloop.Poller {
	if appender == nil {
		appender = f.history
	}
	dispatcher := tools.NewDispatcher(tools.NewFinancialDataTool(tools.DefaultFinancialTable()))
	return runloop.NewPoller(f.jobs, appender, dispatcher, runloop.Options{Sleeper: f.sleeper})
}

func (f *fixture) assistantMessages(t *testing.T) []domain.Message {
	t.Helper()
	msgs, err := f.history.RecentMessages(context.Background(), "u1", 100)
	require.NoError(t, err)
	var out []domain.Message
	for _, m := range msgs {
		if m.Role == domain.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func requireSingleTerminal(t *testing.T, events []domain.Event) domain.Event {
	t.Helper()
	require.NotEmpty(t, events)
	for i, ev := range events[:len(events)-1] {
		require.False(t, ev.Terminal(), "event %d (%+v) is terminal but not last", i, ev)
	}
	last := events[len(events)-1]
	require.True(t, last.Terminal(), "last event %+v is not terminal", last)
	return last
}

func TestPollerCompleted(t *testing.T) {
	f := newFixture(t, scripted.Statuses(domain.RunQueued, domain.RunInProgress, domain.RunCompleted)...)
	f.jobs.Result = "## Revenue\nUp **20%** from March to April."

	res := f.poller(nil).Run(context.Background(), f.job, f.sink)

	require.Equal(t, runloop.OutcomeCompleted, res.Outcome)
	require.Equal(t, 3, res.Attempts)
	require.NoError(t, res.Err)

	events := f.sink.Events()
	require.Equal(t, []domain.Event{
		domain.StatusEvent("Analyzing (1/30)..."),
		domain.StatusEvent("Analyzing (2/30)..."),
		domain.MessageEvent("## Revenue\nUp **20%** from March to April."),
	}, events)

	got := f.assistantMessages(t)
	require.Len(t, got, 1)
	require.Equal(t, f.jobs.Result, got[0].Content)

	require.Equal(t, []time.Duration{time.Second, time.Second}, f.sleeper.waits)
}

func TestPollerTerminalFailureStatuses(t *testing.T) {
	for _, status := range []domain.RunStatus{domain.RunFailed, domain.RunCancelled, domain.RunExpired} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t, scripted.Statuses(domain.RunInProgress, status)...)

			res := f.poller(nil).Run(context.Background(), f.job, f.sink)

			require.Equal(t, string(status), res.Outcome)
			last := requireSingleTerminal(t, f.sink.Events())
			require.Equal(t, domain.ErrorEvent("Analysis "+string(status)), last)
			require.Empty(t, f.assistantMessages(t))
			require.NotContains(t, f.jobs.Ops(), "resolve")
		})
	}
}

func TestPollerTimesOutAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, scripted.Statuses(domain.RunInProgress)...)

	res := f.poller(nil).Run(context.Background(), f.job, f.sink)

	require.Equal(t, runloop.OutcomeTimeout, res.Outcome)
	require.ErrorIs(t, res.Err, domain.ErrTimeout)
	require.Equal(t, 30, res.Attempts)
	require.Equal(t, 30, f.jobs.Polls())

	events := f.sink.Events()
	require.Len(t, events, 30)
	require.Equal(t, domain.StatusEvent("Analyzing (29/30)..."), events[28])
	require.Equal(t, domain.ErrorEvent(runloop.MsgTimedOut), requireSingleTerminal(t, events))
	require.Len(t, f.sleeper.waits, 29)
	require.Empty(t, f.assistantMessages(t))
}

func TestPollerUnknownStatusCountsAsProgress(t *testing.T) {
	f := newFixture(t, scripted.Statuses("cancelling", domain.RunCompleted)...)
	f.jobs.Result = "done"

	res := f.poller(nil).Run(context.Background(), f.job, f.sink)

	require.Equal(t, runloop.OutcomeCompleted, res.Outcome)
	require.Equal(t, domain.StatusEvent("Analyzing (1/30)..."), f.sink.Events()[0])
}

func TestPollerRequiresActionTwice(t *testing.T) {
	revenue := domain.ToolCall{ID: "call_1", Name: tools.FinancialDataToolName, Arguments: json.RawMessage(`{"type":"revenue","period":"march"}`)}
	bogus := domain.ToolCall{ID: "call_2", Name: tools.FinancialDataToolName, Arguments: json.RawMessage(`{"type":"bogus"}`)}
	expenses := domain.ToolCall{ID: "call_3", Name: tools.FinancialDataToolName, Arguments: json.RawMessage(`{"type":"expenses"}`)}

	f := newFixture(t,
		scripted.Step{Status: domain.RunInProgress},
		scripted.Step{Status: domain.RunRequiresAction, ToolCalls: []domain.ToolCall{revenue, bogus}},
		scripted.Step{Status: domain.RunInProgress},
		scripted.Step{Status: domain.RunRequiresAction, ToolCalls: []domain.ToolCall{expenses}},
		scripted.Step{Status: domain.RunCompleted},
	)
	f.jobs.Result = "Revenue was 50000 in March."

	res := f.poller(nil).Run(context.Background(), f.job, f.sink)

	require.Equal(t, runloop.OutcomeCompleted, res.Outcome)
	require.Equal(t, 5, res.Attempts)

	resumes := f.jobs.Resumes()
	require.Len(t, resumes, 2)

	require.Len(t, resumes[0], 2)
	require.Equal(t, "call_1", resumes[0][0].CallID)
	require.JSONEq(t, `50000`, resumes[0][0].Output)
	require.Equal(t, "call_2", resumes[0][1].CallID)
	require.JSONEq(t, `{"error":"invalid data type: bogus","code":"invalid_argument"}`, resumes[0][1].Output)

	require.Len(t, resumes[1], 1)
	require.JSONEq(t, `{"march":20000,"april":25000,"forecast":23000}`, resumes[1][0].Output)

	// The attempt counter keeps running across pauses: the in-progress poll after
	// the first pause is attempt 3.
	require.Equal(t, []domain.Event{
		domain.StatusEvent("Analyzing (1/30)..."),
		domain.StatusEvent(runloop.MsgProcessingTools),
		domain.StatusEvent("Analyzing (3/30)..."),
		domain.StatusEvent(runloop.MsgProcessingTools),
		domain.MessageEvent("Revenue was 50000 in March."),
	}, f.sink.Events())

	require.Len(t, f.assistantMessages(t), 1)
}

func TestPollerRequiresActionConsumesBudget(t *testing.T) {
	call := domain.ToolCall{ID: "c", Name: tools.FinancialDataToolName, Arguments: json.RawMessage(`{"type":"revenue"}`)}
	steps := []scripted.Step{}
	for i := 0; i < 5; i++ {
		steps = append(steps, scripted.Step{Status: domain.RunRequiresAction, ToolCalls: []domain.ToolCall{call}})
	}
	steps = append(steps, scripted.Step{Status: domain.RunQueued})

	f := newFixture(t, steps...)
	res := f.poller(nil).Run(context.Background(), f.job, f.sink)

	require.Equal(t, runloop.OutcomeTimeout, res.Outcome)
	require.Equal(t, 30, f.jobs.Polls())
	require.Len(t, f.jobs.Resumes(), 5)
}

func TestPollerRemoteFaults(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{
			name: "poll",
			setup: func(f *fixture) {
				f.jobs.Steps = []scripted.Step{{Status: domain.RunInProgress}, {Err: boom}}
			},
		},
		{
			name: "resolve",
			setup: func(f *fixture) {
				f.jobs.Steps = scripted.Statuses(domain.RunCompleted)
				f.jobs.ResolveErr = boom
			},
		},
		{
			name: "resume",
			setup: func(f *fixture) {
				f.jobs.Steps = []scripted.Step{{
					Status:    domain.RunRequiresAction,
					ToolCalls: []domain.ToolCall{{ID: "c", Name: tools.FinancialDataToolName, Arguments: json.RawMessage(`{"type":"revenue"}`)}},
				}}
				f.jobs.ResumeErr = boom
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			res := f.poller(nil).Run(context.Background(), f.job, f.sink)

			require.Equal(t, runloop.OutcomeError, res.Outcome)
			require.ErrorIs(t, res.Err, boom)
			require.Equal(t, domain.ErrorEvent(runloop.MsgAnalysisError), requireSingleTerminal(t, f.sink.Events()))
			require.Empty(t, f.assistantMessages(t))
		})
	}
}

func TestPollerRequiresActionWithoutCalls(t *testing.T) {
	f := newFixture(t, scripted.Statuses(domain.RunRequiresAction)...)

	res := f.poller(nil).Run(context.Background(), f.job, f.sink)

	require.Equal(t, runloop.OutcomeError, res.Outcome)
	require.ErrorIs(t, res.Err, domain.ErrRemoteFault)
	require.Empty(t, f.jobs.Resumes())
}

func TestPollerPersistenceFailure(t *testing.T) {
	f := newFixture(t, scripted.Statuses(domain.RunCompleted)...)
	f.jobs.Result = "final"
	storeDown := errors.New("store unavailable")

	res := f.poller(failingAppender{err: storeDown}).Run(context.Background(), f.job, f.sink)

	require.Equal(t, runloop.OutcomeError, res.Outcome)
	require.ErrorIs(t, res.Err, storeDown)
	require.Equal(t, []domain.Event{domain.ErrorEvent(runloop.MsgAnalysisError)}, f.sink.Events())
}

func TestPollerCancellation(t *testing.T) {
	f := newFixture(t, scripted.Statuses(domain.RunInProgress)...)

	ctx, cancel := context.WithCancel(context.Background())
	f.jobs.OnPoll = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	res := f.poller(nil).Run(ctx, f.job, f.sink)

	require.Equal(t, runloop.OutcomeAborted, res.Outcome)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.Equal(t, 3, f.jobs.Polls())
	require.Equal(t, domain.ErrorEvent(runloop.MsgCancelled), requireSingleTerminal(t, f.sink.Events()))
}

func TestPollerKeepsPollingWhenSinkFails(t *testing.T) {
	f := newFixture(t, scripted.Statuses(domain.RunQueued, domain.RunInProgress, domain.RunCompleted)...)
	f.jobs.Result = "answer"
	f.sink.err = errors.New("client went away")

	res := f.poller(nil).Run(context.Background(), f.job, f.sink)

	require.Equal(t, runloop.OutcomeCompleted, res.Outcome)
	require.Len(t, f.assistantMessages(t), 1)
}

func TestPollerCustomBudget(t *testing.T) {
	f := newFixture(t, scripted.Statuses(domain.RunQueued)...)
	p := runloop.NewPoller(f.jobs, f.history, tools.NewDispatcher(), runloop.Options{
		MaxAttempts: 3,
		Interval:    250 * time.Millisecond,
		Sleeper:     f.sleeper,
	})

	res := p.Run(context.Background(), f.job, f.sink)

	require.Equal(t, runloop.OutcomeTimeout, res.Outcome)
	require.Equal(t, 3, p.MaxAttempts())
	require.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, f.sleeper.waits)
	require.Equal(t, domain.StatusEvent("Analyzing (2/3)..."), f.sink.Events()[1])
}

func TestTimerSleeper(t *testing.T) {
	var s runloop.TimerSleeper

	start := time.Now()
	require.NoError(t, s.Sleep(context.Background(), 10*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Sleep(ctx, time.Hour), context.Canceled)
}

package httpadapter_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	httpadapter "github.com/PabloGalante/finadvisor/internal/adapters/http"
	"github.com/PabloGalante/finadvisor/internal/adapters/jobs/local"
	"github.com/PabloGalante/finadvisor/internal/adapters/jobs/scripted"
	"github.com/PabloGalante/finadvisor/internal/adapters/llm"
	"github.com/PabloGalante/finadvisor/internal/adapters/storage/memory"
	"github.com/PabloGalante/finadvisor/internal/app/conversation"
	"github.com/PabloGalante/finadvisor/internal/app/history"
	"github.com/PabloGalante/finadvisor/internal/app/runloop"
	"github.com/PabloGalante/finadvisor/internal/app/tools"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

func newTestServer(t *testing.T, jobs domain.JobStore, assistant domain.Assistant, opts httpadapter.Options) http.Handler {
	t.Helper()

	hist := history.NewService(memory.NewConversationStore(), jobs)
	dispatcher := tools.NewDispatcher(tools.NewFinancialDataTool(nil))
	poller := runloop.NewPoller(jobs, hist, dispatcher, runloop.Options{
		MaxAttempts: 400,
		Interval:    5 * time.Millisecond,
	})
	svc := conversation.NewService(hist, jobs, poller, assistant, conversation.DefaultOptions())

	return httpadapter.NewServer(svc, opts)
}

func newScriptedServer(t *testing.T, jobs *scripted.JobStore) http.Handler {
	return newTestServer(t, jobs, domain.Assistant{ID: "asst_test"}, httpadapter.Options{})
}

func do(t *testing.T, h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("user-id", userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeFrames(t *testing.T, body string) []domain.Event {
	t.Helper()
	require.True(t, strings.HasSuffix(body, "\n\n"), "stream must end with a blank line")

	var out []domain.Event
	for _, frame := range strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n") {
		require.True(t, strings.HasPrefix(frame, "data: "), "bad frame %q", frame)
		var ev domain.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		out = append(out, ev)
	}
	return out
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestHealthz(t *testing.T) {
	srv := newScriptedServer(t, scripted.New())

	w := do(t, srv, http.MethodGet, "/healthz", "", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newScriptedServer(t, scripted.New())
	do(t, srv, http.MethodGet, "/healthz", "", "")

	w := do(t, srv, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "finadvisor_http_requests_total")
}

func TestChatStreamsAndPersists(t *testing.T) {
	jobs := scripted.New(scripted.Statuses(domain.RunQueued, domain.RunInProgress, domain.RunCompleted)...)
	jobs.Result = "## Outlook\nRevenue is **up 20%**."
	srv := newScriptedServer(t, jobs)

	w := do(t, srv, http.MethodPost, "/api/chat", "alice", `{"message":"How are we doing?"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Equal(t, []domain.Event{
		domain.StatusEvent("Analyzing (1/400)..."),
		domain.StatusEvent("Analyzing (2/400)..."),
		domain.MessageEvent(jobs.Result),
	}, decodeFrames(t, w.Body.String()))

	w = do(t, srv, http.MethodGet, "/api/messages", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Messages []struct {
			Role      string    `json:"role"`
			Content   string    `json:"content"`
			Timestamp time.Time `json:"timestamp"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	require.Equal(t, "user", resp.Messages[0].Role)
	require.Equal(t, "How are we doing?", resp.Messages[0].Content)
	require.Equal(t, "assistant", resp.Messages[1].Role)
	require.False(t, resp.Messages[1].Timestamp.Before(resp.Messages[0].Timestamp))
}

func TestChatTerminalErrorFrame(t *testing.T) {
	jobs := scripted.New(scripted.Statuses(domain.RunExpired)...)
	srv := newScriptedServer(t, jobs)

	w := do(t, srv, http.MethodPost, "/api/chat", "alice", `{"message":"hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []domain.Event{domain.ErrorEvent("Analysis expired")}, decodeFrames(t, w.Body.String()))
}

func TestChatEndToEndWithToolCalls(t *testing.T) {
	specs := tools.NewDispatcher(tools.NewFinancialDataTool(nil)).Specs()
	assistant := llm.AdvisorAssistant("mock")
	assistant.ID = "asst_local"
	jobs := local.NewJobStore(llm.NewMockLLM(), local.Options{Assistant: assistant, Tools: specs})
	t.Cleanup(jobs.Close)

	srv := newTestServer(t, jobs, jobs.Assistant(), httpadapter.Options{})

	w := do(t, srv, http.MethodPost, "/api/chat", "bob", `{"message":"Summarize revenue and expenses"}`)
	require.Equal(t, http.StatusOK, w.Code)

	events := decodeFrames(t, w.Body.String())
	last := events[len(events)-1]
	require.Equal(t, domain.EventMessage, last.Type)
	require.Contains(t, last.Content, "march 50,000")
	require.Contains(t, events, domain.StatusEvent(runloop.MsgProcessingTools))
}

func TestChatValidation(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		body    string
		wantErr string
	}{
		{name: "invalid json", userID: "alice", body: `{`, wantErr: "invalid JSON body"},
		{name: "missing message", userID: "alice", body: `{}`, wantErr: "Message is required"},
		{name: "blank message", userID: "alice", body: `{"message":"   "}`, wantErr: "Message is required"},
		{name: "missing user", userID: "", body: `{"message":"hi"}`, wantErr: "User ID is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := scripted.New()
			srv := newScriptedServer(t, jobs)

			w := do(t, srv, http.MethodPost, "/api/chat", tt.userID, tt.body)

			require.Equal(t, http.StatusBadRequest, w.Code)
			require.Equal(t, tt.wantErr, errorBody(t, w))
			require.Empty(t, jobs.Ops())
		})
	}
}

func TestChatRemoteFailureBeforeStream(t *testing.T) {
	jobs := scripted.New()
	jobs.CreateThreadErr = errors.New("upstream unavailable")
	srv := newScriptedServer(t, jobs)

	w := do(t, srv, http.MethodPost, "/api/chat", "alice", `{"message":"hi"}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "Failed to process message", errorBody(t, w))
}

func TestGetMessages(t *testing.T) {
	jobs := scripted.New()
	jobs.Result = "answer"
	srv := newScriptedServer(t, jobs)

	w := do(t, srv, http.MethodGet, "/api/messages", "nobody", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"messages":[]}`, w.Body.String())

	for i := 0; i < 3; i++ {
		do(t, srv, http.MethodPost, "/api/chat", "alice", `{"message":"q"}`)
	}

	w = do(t, srv, http.MethodGet, "/api/messages?limit=1", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "assistant", resp.Messages[0]["role"])

	w = do(t, srv, http.MethodGet, "/api/messages?limit=zero", "alice", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodGet, "/api/messages", "", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "User ID is required", errorBody(t, w))
}

func TestClearHistory(t *testing.T) {
	jobs := scripted.New()
	srv := newScriptedServer(t, jobs)
	do(t, srv, http.MethodPost, "/api/chat", "alice", `{"message":"q"}`)

	w := do(t, srv, http.MethodDelete, "/api/messages/history", "alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"message":"Conversation history cleared"}`, w.Body.String())

	w = do(t, srv, http.MethodGet, "/api/messages", "alice", "")
	require.JSONEq(t, `{"messages":[]}`, w.Body.String())

	w = do(t, srv, http.MethodDelete, "/api/messages/history", "", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatRateLimit(t *testing.T) {
	jobs := scripted.New()
	srv := newTestServer(t, jobs, domain.Assistant{ID: "asst_test"}, httpadapter.Options{ChatRatePerMinute: 1})

	w := do(t, srv, http.MethodPost, "/api/chat", "alice", `{"message":"one"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodPost, "/api/chat", "alice", `{"message":"two"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	// Budgets are per user.
	w = do(t, srv, http.MethodPost, "/api/chat", "bob", `{"message":"one"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, scripted.New(), domain.Assistant{ID: "asst_test"}, httpadapter.Options{
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", bytes.NewReader(nil))
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type,user-id")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, strings.ToLower(w.Header().Get("Access-Control-Allow-Headers")), "user-id")
}

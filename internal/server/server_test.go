package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/research"
	"github.com/kapu/guest-research-go/internal/sse"
	"github.com/kapu/guest-research-go/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "secret-token"

// fakeRunner emits a fixed sequence, or blocks until its context ends when
// block is set.
type fakeRunner struct {
	mu        sync.Mutex
	reqs      []domain.ResearchRequest
	err       error
	block     bool
	cancelled chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req domain.ResearchRequest) (*research.Stream, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	stream := research.NewStream("run-1", 16)
	go func() {
		stream.Publish(domain.ProgressEvent{Stage: domain.StageStart, Status: domain.StatusActive, Message: "Researching " + req.SubjectName})
		if f.block {
			<-ctx.Done()
			close(f.cancelled)
			stream.Finish(domain.Event{Error: &domain.RunError{Code: "CANCELLED", Message: ctx.Err().Error()}})
			return
		}
		stream.Publish(domain.ProgressEvent{Stage: domain.StageNameCheck, Status: domain.StatusDone, Message: "ok"})
		stream.Publish(domain.ProgressEvent{Stage: domain.StageComplete, Status: domain.StatusDone, Message: "Research complete"})
		stream.Finish(domain.Event{Result: &domain.ResearchReport{RunID: "run-1", SubjectName: req.SubjectName, CombinedNarrative: "## Video Analysis\n\nnotes"}})
	}()
	return stream, nil
}

func (f *fakeRunner) calls() []domain.ResearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ResearchRequest(nil), f.reqs...)
}

type fakeQuestions struct {
	got    domain.QuestionRequest
	result domain.QuestionResult
}

func (f *fakeQuestions) Generate(_ context.Context, req domain.QuestionRequest) domain.QuestionResult {
	f.got = req
	return f.result
}

type fakeKeys map[string]domain.APIKeys

func (f fakeKeys) GetAPIKeys(_ context.Context, userID string) (domain.APIKeys, error) {
	return f[userID], nil
}

type fakeRuns struct {
	runs     map[string]domain.RunRecord
	err      error
	gotLimit int
}

func (f *fakeRuns) GetRun(_ context.Context, userID, runID string) (*domain.RunRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	run, ok := f.runs[runID]
	if !ok || run.UserID != userID {
		return nil, nil
	}
	return &run, nil
}

func (f *fakeRuns) ListRuns(_ context.Context, userID string, limit int) ([]domain.RunRecord, error) {
	f.gotLimit = limit
	out := []domain.RunRecord{}
	for _, run := range f.runs {
		if run.UserID == userID {
			out = append(out, run)
		}
	}
	return out, f.err
}

func newTestServer(opts Options) *Server {
	if opts.Auth == nil {
		opts.Auth = StaticAuthenticator{testToken: "user-1"}
	}
	if opts.MaxConcurrentRuns == 0 {
		opts.MaxConcurrentRuns = 2
	}
	return New(opts, zap.NewNop())
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEvents(t *testing.T, r io.Reader) []domain.Event {
	t.Helper()
	dec := sse.NewDecoder(r)
	var events []domain.Event
	for {
		var ev domain.Event
		err := dec.DecodeInto(&ev)
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestResearchRequiresBearerToken(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(Options{Runner: runner})

	for _, token := range []string{"", "wrong"} {
		rec := doJSON(t, s.Handler(), http.MethodPost, "/api/research", researchBody{SubjectName: "Jane Doe"}, token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), errors.CodeAuth)
	}
	assert.Empty(t, runner.calls())
}

func TestResearchRejectsEmptySubject(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(Options{Runner: runner})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/research", researchBody{SubjectName: "   "}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), errors.CodeValidation)
	assert.Empty(t, runner.calls())
}

func TestResearchStreamsUntilTerminal(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(Options{
		Runner: runner,
		Keys:   fakeKeys{"user-1": {SearchKey: "own-yt"}},
	})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/research",
		researchBody{SubjectName: " Jane Doe ", Context: "founder", Mode: "PRO"}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "run-1", rec.Header().Get("X-Run-ID"))

	events := decodeEvents(t, rec.Body)
	require.Len(t, events, 4)
	assert.Equal(t, domain.StageStart, events[0].Stage)
	assert.Equal(t, domain.StageComplete, events[2].Stage)
	require.NotNil(t, events[3].Result)
	assert.Equal(t, "Jane Doe", events[3].Result.SubjectName)

	reqs := runner.calls()
	require.Len(t, reqs, 1)
	assert.Equal(t, "user-1", reqs[0].UserID)
	assert.Equal(t, domain.ModePro, reqs[0].Mode)
	assert.Equal(t, "own-yt", reqs[0].Keys.SearchKey)

	// slot released after the stream ends
	assert.True(t, s.runs.TryAcquire(2))
	s.runs.Release(2)
}

func TestResearchConfigurationErrorBeforeStreaming(t *testing.T) {
	runner := &fakeRunner{err: errors.NewConfigurationError("no YouTube API key configured", "youtube")}
	s := newTestServer(Options{Runner: runner})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/research", researchBody{SubjectName: "Jane Doe"}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errors.CodeConfiguration, body["code"])
	assert.Equal(t, "no YouTube API key configured", body["error"])

	assert.True(t, s.runs.TryAcquire(2))
	s.runs.Release(2)
}

func TestResearchLimiterSaturated(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(Options{Runner: runner, MaxConcurrentRuns: 1})
	require.True(t, s.runs.TryAcquire(1))
	defer s.runs.Release(1)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/research", researchBody{SubjectName: "Jane Doe"}, testToken)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, runner.calls())
}

func TestResearchClientDisconnectCancelsRun(t *testing.T) {
	runner := &fakeRunner{block: true, cancelled: make(chan struct{})}
	s := newTestServer(Options{Runner: runner})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/research", strings.NewReader(`{"subjectName":"Jane Doe"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := sse.NewDecoder(resp.Body).Next()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "Researching Jane Doe")

	cancel()
	select {
	case <-runner.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("run context was not cancelled after the client went away")
	}
}

func TestResearchSendsKeepAliveWhileQuiet(t *testing.T) {
	runner := &fakeRunner{block: true, cancelled: make(chan struct{})}
	s := newTestServer(Options{Runner: runner, KeepAliveInterval: 20 * time.Millisecond})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/research", strings.NewReader(`{"subjectName":"Jane Doe"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	sawEvent, sawKeepAlive := false, false
	for !sawEvent || !sawKeepAlive {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, "Researching Jane Doe") {
			sawEvent = true
		}
		if strings.HasPrefix(line, ": keep-alive") {
			sawKeepAlive = true
		}
	}

	cancel()
	select {
	case <-runner.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("run context was not cancelled after the client went away")
	}
}

func TestResearchWebSocket(t *testing.T) {
	runner := &fakeRunner{}
	s := newTestServer(Options{Runner: runner})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/research/ws?subjectName=Jane+Doe&access_token=" + testToken
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "run-1", resp.Header.Get("X-Run-ID"))

	var events []domain.Event
	for {
		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		events = append(events, ev)
	}
	require.Len(t, events, 4)
	require.NotNil(t, events[3].Result)
}

func TestResearchWebSocketRejectsBeforeUpgrade(t *testing.T) {
	s := newTestServer(Options{Runner: &fakeRunner{}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/research/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?subjectName=Jane", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": []string{"Bearer " + testToken}}
	_, resp, err = websocket.DefaultDialer.Dial(base+"?subjectName=", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuestionsFailureIsStructured(t *testing.T) {
	questions := &fakeQuestions{result: domain.QuestionResult{Success: false, Attempts: 6, Error: "all models failed"}}
	s := newTestServer(Options{
		Questions: questions,
		Keys:      fakeKeys{"user-1": {LLMKey: "own-gemini"}},
	})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/questions", questionsBody{
		Interviewer:       domain.InterviewerProfile{Name: "Sam", ShowName: "The Show"},
		GuestName:         "Jane Doe",
		ResearchNarrative: "notes",
		Count:             12,
	}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.QuestionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, 6, result.Attempts)
	assert.Equal(t, "all models failed", result.Error)

	assert.Equal(t, "own-gemini", questions.got.Keys.LLMKey)
	assert.Equal(t, 12, questions.got.Count)
	assert.Equal(t, "The Show", questions.got.Interviewer.ShowName)
}

func TestQuestionsRequiresGuestName(t *testing.T) {
	questions := &fakeQuestions{}
	s := newTestServer(Options{Questions: questions})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/api/questions", questionsBody{}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, questions.got.GuestName)
}

func TestGetRunScopedToUser(t *testing.T) {
	runs := &fakeRuns{runs: map[string]domain.RunRecord{
		"mine":   {ID: "mine", UserID: "user-1", SubjectName: "Jane Doe", Status: domain.RunStatusCompleted},
		"theirs": {ID: "theirs", UserID: "user-2"},
	}}
	s := newTestServer(Options{Runs: runs})

	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/runs/mine", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var run domain.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "Jane Doe", run.SubjectName)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/runs/theirs", nil, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/runs", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestListRunsClampsLimit(t *testing.T) {
	runs := &fakeRuns{runs: map[string]domain.RunRecord{}}
	s := newTestServer(Options{Runs: runs})

	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"?limit=5", 5},
		{"?limit=5000", 100},
		{"?limit=0", 20},
		{"?limit=-3", 20},
		{"?limit=abc", 20},
	}
	for _, tt := range tests {
		rec := doJSON(t, s.Handler(), http.MethodGet, "/api/runs"+tt.query, nil, testToken)
		require.Equal(t, http.StatusOK, rec.Code, tt.query)
		assert.Equal(t, tt.want, runs.gotLimit, tt.query)
	}
}

func TestGetRunErrors(t *testing.T) {
	s := newTestServer(Options{})
	rec := doJSON(t, s.Handler(), http.MethodGet, "/api/runs/x", nil, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s = newTestServer(Options{Runs: &fakeRuns{err: stderrors.New("db down")}})
	rec = doJSON(t, s.Handler(), http.MethodGet, "/api/runs/x", nil, testToken)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(Options{HealthChecks: map[string]HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return stderrors.New("connection refused") },
	}})

	rec := doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"ok"`)
	assert.Contains(t, rec.Body.String(), "connection refused")

	s = newTestServer(Options{})
	rec = doJSON(t, s.Handler(), http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer   abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("abc"))
}

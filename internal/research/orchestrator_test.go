package research

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/service/youtube"
	"github.com/kapu/guest-research-go/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var defaultKeys = domain.APIKeys{SearchKey: "yt-default", LLMKey: "llm-default"}

type harness struct {
	names        *fakeNameChecker
	searcher     VideoSearcher
	transcripts  *fakeTranscripts
	analyzer     *fakeAnalyzer
	synthesizer  *fakeSynthesizer
	dossier      *fakeDossier
	encyclopedia *fakeEncyclopedia
	recorder     *fakeRecorder
	sleeps       *sleepLog
}

func newHarness(videos []domain.VideoRecord) *harness {
	return &harness{
		names: &fakeNameChecker{},
		searcher: &fakeSearcher{result: &youtube.SearchResult{
			Videos:         videos,
			TotalCollected: len(videos),
			QueriesRun:     10,
		}},
		transcripts: &fakeTranscripts{texts: map[string]string{}},
		analyzer:    &fakeAnalyzer{failIDs: map[string]bool{}},
		synthesizer: &fakeSynthesizer{synthText: "deep analysis", metaText: "metadata analysis"},
		dossier: &fakeDossier{dossier: &domain.WebDossier{
			ProfileText: "dossier text",
			SourceKind:  domain.DossierLiveSearch,
			CitedSources: []domain.CitedSource{
				{Title: "News", URL: "https://news.example/jane"},
			},
		}},
		encyclopedia: &fakeEncyclopedia{entry: &domain.EncyclopediaEntry{Title: "Jane Doe", Summary: "Jane Doe is a writer."}},
		recorder:     &fakeRecorder{},
		sleeps:       &sleepLog{},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return NewOrchestrator(Dependencies{
		NameChecker:  h.names,
		Searcher:     h.searcher,
		Transcripts:  h.transcripts,
		Analyzer:     h.analyzer,
		Synthesizer:  h.synthesizer,
		Dossier:      h.dossier,
		Encyclopedia: h.encyclopedia,
		Recorder:     h.recorder,
	}, OrchestratorConfig{DefaultKeys: defaultKeys, BufferSize: 1024}, zap.NewNop()).WithSleeper(h.sleeps.sleep)
}

func makeVideos(n int) []domain.VideoRecord {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	videos := make([]domain.VideoRecord, n)
	for i := range videos {
		videos[i] = domain.VideoRecord{
			ID:          fmt.Sprintf("v%d", i),
			Title:       fmt.Sprintf("Jane Doe interview %d", i),
			ChannelName: "Talk Show",
			PublishedAt: base.AddDate(0, 0, -i),
		}
	}
	return videos
}

// drain consumes the stream and returns progress events plus the terminal event.
func drain(t *testing.T, s *Stream) ([]domain.ProgressEvent, domain.Event) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []domain.ProgressEvent
	for {
		ev, ok := s.Next(ctx)
		require.True(t, ok, "stream ended without a terminal event")
		if ev.IsTerminal() {
			_, more := s.Next(ctx)
			require.False(t, more)
			return events, ev
		}
		events = append(events, ev.Progress())
	}
}

func runToEnd(t *testing.T, o *Orchestrator, req domain.ResearchRequest) ([]domain.ProgressEvent, domain.Event) {
	t.Helper()
	stream, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	return drain(t, stream)
}

func stageSequence(events []domain.ProgressEvent) []domain.Stage {
	seen := map[domain.Stage]bool{}
	var order []domain.Stage
	for _, ev := range events {
		if !seen[ev.Stage] {
			seen[ev.Stage] = true
			order = append(order, ev.Stage)
		}
	}
	return order
}

func hasStatus(events []domain.ProgressEvent, stage domain.Stage, status domain.StageStatus) bool {
	for _, ev := range events {
		if ev.Stage == stage && ev.Status == status {
			return true
		}
	}
	return false
}

type fakeQuerier struct {
	mu      sync.Mutex
	results map[string][]domain.VideoRecord
	err     error
	calls   int
}

func (f *fakeQuerier) SearchVideos(_ context.Context, _ string, query string, _ int64) ([]domain.VideoRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestEndToEndFreeModeJaneDoe(t *testing.T) {
	videos := []domain.VideoRecord{
		{ID: "with-captions", Title: "Jane Doe full interview", ChannelName: "Pod", PublishedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "no-captions", Title: "A conversation with Jane Doe", ChannelName: "Show", PublishedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	querier := &fakeQuerier{results: map[string][]domain.VideoRecord{
		`"Jane Doe" interview`: videos,
		`"Jane Doe" podcast`:   videos[:1],
	}}

	h := newHarness(nil)
	h.searcher = youtube.NewSearcher(querier, nil, zap.NewNop()).WithSleeper(noSleep)
	h.transcripts.texts["with-captions"] = strings.Repeat("caption text ", 30)

	events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{
		UserID:      "user-1",
		SubjectName: "Jane Doe",
		Mode:        domain.ModeFree,
	})

	require.Nil(t, terminal.Error)
	report := terminal.Result
	require.NotNil(t, report)

	assert.Equal(t, 2, report.TotalVideosFound)
	assert.Equal(t, 2, report.VideosAnalyzedCount)
	assert.Equal(t, 1, report.TranscriptsAccepted)
	assert.Equal(t, 1, report.ModelWatchedAccepted)
	assert.NotEmpty(t, report.VideoAnalysisText)
	assert.False(t, report.UsedMetadataFallback)

	// newest first
	assert.Equal(t, "no-captions", report.Videos[0].ID)
	assert.Equal(t, []string{"no-captions"}, h.analyzer.Calls())

	want := append([]domain.Stage{domain.StageStart}, domain.StageOrder...)
	assert.Equal(t, want, stageSequence(events))
	assert.Equal(t, domain.StageComplete, events[len(events)-1].Stage)

	narrative := report.CombinedNarrative
	iVideo := strings.Index(narrative, "## Video Analysis")
	iWiki := strings.Index(narrative, "## Encyclopedia")
	iWeb := strings.Index(narrative, "## Web Dossier")
	assert.True(t, iVideo >= 0 && iVideo < iWiki && iWiki < iWeb, narrative)
	require.NotNil(t, report.WebDossier)
	assert.Len(t, report.WebDossier.CitedSources, 1)

	assert.Equal(t, "completed", h.recorder.finished[report.RunID])
	require.Len(t, h.recorder.started, 1)
	assert.Equal(t, "user-1", h.recorder.started[0].UserID)
}

func TestQuotaExhaustedIsFatalBeforeTranscriptFetch(t *testing.T) {
	querier := &fakeQuerier{err: &youtube.QuotaExceededError{Code: 403, Reason: "quotaExceeded"}}
	h := newHarness(nil)
	h.searcher = youtube.NewSearcher(querier, nil, zap.NewNop()).WithSleeper(noSleep)

	events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe", Mode: domain.ModeFree})

	require.Nil(t, terminal.Result)
	require.NotNil(t, terminal.Error)
	assert.Equal(t, errors.CodeQuotaExhausted, terminal.Error.Code)
	assert.Contains(t, terminal.Error.Message, "add your own API key")

	for _, ev := range events {
		assert.NotEqual(t, domain.StageTranscriptFetch, ev.Stage)
		assert.NotEqual(t, domain.StageComplete, ev.Stage)
	}
	assert.True(t, hasStatus(events, domain.StageMediaSearch, domain.StatusError))
	assert.Empty(t, h.transcripts.Calls())
	assert.Equal(t, 3, querier.calls)

	require.Len(t, h.recorder.started, 1)
	assert.Contains(t, h.recorder.finished[h.recorder.started[0].ID], "failed")
}

func TestQuotaWithOwnKeyMessage(t *testing.T) {
	querier := &fakeQuerier{err: &youtube.QuotaExceededError{Code: 403}}
	h := newHarness(nil)
	h.searcher = youtube.NewSearcher(querier, nil, zap.NewNop()).WithSleeper(noSleep)

	_, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{
		SubjectName: "Jane Doe",
		Keys:        domain.APIKeys{SearchKey: "mine"},
	})
	require.NotNil(t, terminal.Error)
	assert.Contains(t, terminal.Error.Message, "Your YouTube API key")
}

func TestModelWatchBreakerStopsAtKPlusThree(t *testing.T) {
	videos := makeVideos(8)
	h := newHarness(videos)
	const k = 2
	for _, v := range videos[k:] {
		h.analyzer.failIDs[v.ID] = true
	}

	events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe", Mode: domain.ModeFree})
	require.NotNil(t, terminal.Result)

	assert.Equal(t, []string{"v0", "v1", "v2", "v3", "v4"}, h.analyzer.Calls())
	assert.True(t, hasStatus(events, domain.StageModelWatch, domain.StatusError))
	assert.Equal(t, k, terminal.Result.ModelWatchedAccepted)

	// the run still finishes every later stage
	want := append([]domain.Stage{domain.StageStart}, domain.StageOrder...)
	assert.Equal(t, want, stageSequence(events))

	// one 4s pause between consecutive Free calls
	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second, 4 * time.Second, 4 * time.Second}, h.sleeps.Waits())
}

func TestFreeModelWatchCap(t *testing.T) {
	h := newHarness(makeVideos(20))

	events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe", Mode: domain.ModeFree})
	report := terminal.Result
	require.NotNil(t, report)

	assert.Len(t, h.analyzer.Calls(), 15)
	assert.Equal(t, 15, report.VideosAnalyzedCount)
	assert.Equal(t, 20, report.TotalVideosFound)
	assert.LessOrEqual(t, report.VideosAnalyzedCount, report.TotalVideosFound)

	var skippedMsg bool
	for _, ev := range events {
		if ev.Stage == domain.StageModelWatch && strings.Contains(ev.Message, "5 skipped") {
			skippedMsg = true
		}
	}
	assert.True(t, skippedMsg)
}

func TestProModeAnalyzesAllInBatches(t *testing.T) {
	h := newHarness(makeVideos(20))
	h.analyzer.delay = 10 * time.Millisecond
	for i := 0; i < 4; i++ {
		h.transcripts.texts[fmt.Sprintf("v%d", i)] = "caption"
	}

	_, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe", Mode: domain.ModePro})
	report := terminal.Result
	require.NotNil(t, report)

	assert.Len(t, h.analyzer.Calls(), 16)
	assert.LessOrEqual(t, h.analyzer.maxSeen, 3)
	assert.Equal(t, 20, report.VideosAnalyzedCount)
	assert.Equal(t, report.TranscriptsAccepted+report.ModelWatchedAccepted, report.VideosAnalyzedCount)

	// 16 videos in batches of 3 is 6 batches, so 5 pauses
	waits := h.sleeps.Waits()
	require.Len(t, waits, 5)
	assert.Equal(t, 1500*time.Millisecond, waits[0])
}

func modelWatchError(events []domain.ProgressEvent) string {
	for _, ev := range events {
		if ev.Stage == domain.StageModelWatch && ev.Status == domain.StatusError {
			return ev.Message
		}
	}
	return ""
}

func TestProModelWatchBreaker(t *testing.T) {
	threshold := constants.ModelWatchConfig.ProFailureThreshold

	t.Run("all fail", func(t *testing.T) {
		h := newHarness(makeVideos(20))
		h.analyzer.failAll = true

		events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe", Mode: domain.ModePro})
		require.NotNil(t, terminal.Result)

		assert.Len(t, h.analyzer.Calls(), threshold)
		assert.Contains(t, modelWatchError(events), fmt.Sprintf("Stopped after %d consecutive failures", threshold))
		assert.Zero(t, terminal.Result.ModelWatchedAccepted)
	})

	t.Run("success follows the failure streak", func(t *testing.T) {
		h := newHarness(makeVideos(20))
		for i := 0; i < 5; i++ {
			h.analyzer.failIDs[fmt.Sprintf("v%d", i)] = true
		}

		events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe", Mode: domain.ModePro})
		require.NotNil(t, terminal.Result)

		assert.Equal(t, []string{"v0", "v1", "v2", "v3", "v4"}, sortedCalls(h.analyzer.Calls()))
		msg := modelWatchError(events)
		assert.Contains(t, msg, "Stopped after 5 consecutive failures")
		assert.NotContains(t, msg, "after 0")
	})

	t.Run("success inside a batch resets the streak", func(t *testing.T) {
		h := newHarness(makeVideos(20))
		for i := 0; i < 9; i++ {
			if i != 3 {
				h.analyzer.failIDs[fmt.Sprintf("v%d", i)] = true
			}
		}

		events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe", Mode: domain.ModePro})
		require.NotNil(t, terminal.Result)

		// batches of 3, 2, 3 and 1: each holds no more calls than failures left
		assert.Len(t, h.analyzer.Calls(), 9)
		assert.Len(t, h.sleeps.Waits(), 3)
		assert.Equal(t, 1, terminal.Result.ModelWatchedAccepted)
		assert.Contains(t, modelWatchError(events), "Stopped after 5 consecutive failures")
	})
}

func TestSynthesisRetriesRateLimitThenFallsBack(t *testing.T) {
	videos := makeVideos(3)
	h := newHarness(videos)
	for _, v := range videos {
		h.transcripts.texts[v.ID] = "caption"
	}
	h.synthesizer.synthErr = errors.NewRateLimitError("Gemini", stderrors.New("429"))

	events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe"})
	report := terminal.Result
	require.NotNil(t, report)

	assert.Equal(t, 3, h.synthesizer.synthCalls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, h.sleeps.Waits())
	assert.Equal(t, 1, h.synthesizer.metaCalls)
	assert.True(t, report.UsedMetadataFallback)
	assert.Equal(t, "metadata analysis", report.VideoAnalysisText)
	assert.True(t, hasStatus(events, domain.StageCorpusSynthesis, domain.StatusDone))
}

func TestSynthesisSucceedsAfterOneRateLimit(t *testing.T) {
	videos := makeVideos(1)
	h := newHarness(videos)
	h.transcripts.texts["v0"] = "caption"
	h.synthesizer.synthErrs = []error{stderrors.New("Error 429: RESOURCE_EXHAUSTED")}

	_, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe"})
	require.NotNil(t, terminal.Result)
	assert.Equal(t, 2, h.synthesizer.synthCalls)
	assert.Equal(t, 0, h.synthesizer.metaCalls)
	assert.Equal(t, "deep analysis", terminal.Result.VideoAnalysisText)
}

func TestSynthesisOtherErrorsAreNotRetried(t *testing.T) {
	videos := makeVideos(2)
	h := newHarness(videos)
	h.synthesizer.synthErr = stderrors.New("invalid argument")

	_, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe"})
	require.NotNil(t, terminal.Result)
	assert.Equal(t, 1, h.synthesizer.synthCalls)
	assert.Equal(t, 1, h.synthesizer.metaCalls)
}

func TestBothAnalysesFailLeavesEmptyText(t *testing.T) {
	videos := makeVideos(2)
	h := newHarness(videos)
	h.synthesizer.synthErr = stderrors.New("boom")
	h.synthesizer.metaErr = stderrors.New("boom again")

	events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe"})
	report := terminal.Result
	require.NotNil(t, report)

	assert.Empty(t, report.VideoAnalysisText)
	assert.True(t, hasStatus(events, domain.StageCorpusSynthesis, domain.StatusError))
	assert.NotContains(t, report.CombinedNarrative, "## Video Analysis")
	assert.Contains(t, report.CombinedNarrative, "## Web Dossier")
}

func TestMetadataFallbackWhenNothingAnalyzed(t *testing.T) {
	videos := makeVideos(3)
	h := newHarness(videos)
	h.analyzer.failAll = true

	_, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe"})
	report := terminal.Result
	require.NotNil(t, report)
	assert.Equal(t, 0, h.synthesizer.synthCalls)
	assert.Equal(t, 1, h.synthesizer.metaCalls)
	assert.Equal(t, 3, h.synthesizer.metaVideoCnt)
	assert.Equal(t, 0, report.VideosAnalyzedCount)
	assert.True(t, report.UsedMetadataFallback)
}

func TestWebAndEncyclopediaFailuresAreIndependent(t *testing.T) {
	h := newHarness(nil)
	h.dossier.dossier, h.dossier.err = nil, stderrors.New("dossier down")

	_, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe"})
	report := terminal.Result
	require.NotNil(t, report)
	assert.Nil(t, report.WebDossier)
	require.NotNil(t, report.Encyclopedia)
	assert.Equal(t, "## Encyclopedia\n\nJane Doe is a writer.", report.CombinedNarrative)
}

func TestEmptySearchStillCompletes(t *testing.T) {
	h := newHarness(nil)
	h.searcher = &fakeSearcher{err: stderrors.New("network down")}

	events, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe"})
	require.NotNil(t, terminal.Result)
	assert.Equal(t, 0, terminal.Result.TotalVideosFound)
	assert.True(t, hasStatus(events, domain.StageMediaSearch, domain.StatusError))
	assert.Equal(t, 0, h.synthesizer.metaCalls)
}

func TestNameCorrection(t *testing.T) {
	tests := []struct {
		name      string
		answer    string
		err       error
		corrected string
		searched  string
	}{
		{name: "accepted", answer: "Jane Doe", corrected: "Jane Doe", searched: "Jane Doe"},
		{name: "multi-line answer", answer: "Jane Doe\nThe author", searched: "jane doh"},
		{name: "too long", answer: strings.Repeat("x", 61), searched: "jane doh"},
		{name: "call fails", err: stderrors.New("down"), searched: "jane doh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(nil)
			h.names.answer, h.names.err = tt.answer, tt.err
			searcher := h.searcher.(*fakeSearcher)

			_, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "jane doh"})
			require.NotNil(t, terminal.Result)
			assert.Equal(t, tt.corrected, terminal.Result.CorrectedName)
			assert.Equal(t, "jane doh", terminal.Result.SubjectName)
			require.Len(t, searcher.reqs, 1)
			assert.Equal(t, tt.searched, searcher.reqs[0].Subject)
		})
	}
}

func TestRunRejectsBeforeAnyStage(t *testing.T) {
	h := newHarness(nil)
	o := h.orchestrator()

	_, err := o.Run(context.Background(), domain.ResearchRequest{SubjectName: "   "})
	assert.True(t, errors.IsValidation(err))

	o = NewOrchestrator(Dependencies{NameChecker: h.names, Recorder: h.recorder}, OrchestratorConfig{}, nil)
	_, err = o.Run(context.Background(), domain.ResearchRequest{SubjectName: "Jane Doe"})
	assert.True(t, errors.IsConfiguration(err))

	assert.Empty(t, h.recorder.started)
}

func TestCancelledRunEndsWithError(t *testing.T) {
	h := newHarness(makeVideos(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream, err := h.orchestrator().Run(ctx, domain.ResearchRequest{SubjectName: "Jane Doe"})
	require.NoError(t, err)

	_, terminal := drain(t, stream)
	require.NotNil(t, terminal.Error)
	assert.Nil(t, terminal.Result)
	assert.Empty(t, h.transcripts.Calls())
}

func TestRecorderFailureDoesNotAffectRun(t *testing.T) {
	h := newHarness(makeVideos(1))
	h.recorder.err = stderrors.New("db down")

	_, terminal := runToEnd(t, h.orchestrator(), domain.ResearchRequest{SubjectName: "Jane Doe"})
	assert.NotNil(t, terminal.Result)
}

func TestCompile(t *testing.T) {
	entry := &domain.EncyclopediaEntry{Summary: "summary", Article: "article"}
	dossier := &domain.WebDossier{ProfileText: "profile"}

	got := Compile(" analysis ", entry, dossier)
	assert.Equal(t, "## Video Analysis\n\nanalysis\n\n---\n\n## Encyclopedia\n\nsummary\n\narticle\n\n---\n\n## Web Dossier\n\nprofile", got)

	assert.Equal(t, "## Web Dossier\n\nprofile", Compile("", nil, dossier))
	assert.Empty(t, Compile("", nil, nil))
}

func sortedCalls(calls []string) []string {
	slices.Sort(calls)
	return calls
}

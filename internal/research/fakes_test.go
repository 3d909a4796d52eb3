package research

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/service/youtube"
)

type fakeNameChecker struct {
	answer string
	err    error
}

func (f *fakeNameChecker) Check(_ context.Context, _ string, raw string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.answer == "" {
		return raw, nil
	}
	return f.answer, nil
}

type fakeSearcher struct {
	result *youtube.SearchResult
	err    error
	reqs   []youtube.SearchRequest
}

func (f *fakeSearcher) Search(_ context.Context, req youtube.SearchRequest) (*youtube.SearchResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeTranscripts struct {
	mu    sync.Mutex
	texts map[string]string
	calls []string
}

func (f *fakeTranscripts) Fetch(_ context.Context, video domain.VideoRecord) (*domain.TranscriptRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, video.ID)
	text, ok := f.texts[video.ID]
	if !ok {
		return nil, nil
	}
	return &domain.TranscriptRecord{VideoID: video.ID, Title: video.Title, Text: text, Language: "en", SourceKind: domain.SourceTranscript}, nil
}

func (f *fakeTranscripts) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeAnalyzer fails for the listed videos, or for all of them.
type fakeAnalyzer struct {
	mu       sync.Mutex
	calls    []string
	failIDs  map[string]bool
	failAll  bool
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, _ string, _ string, video domain.VideoRecord) (*domain.TranscriptRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, video.ID)
	f.inFlight++
	f.maxSeen = max(f.maxSeen, f.inFlight)
	fail := f.failAll || f.failIDs[video.ID]
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if fail {
		return nil, stderrors.New("429 RESOURCE_EXHAUSTED")
	}
	return &domain.TranscriptRecord{VideoID: video.ID, Title: video.Title, Text: "watched " + video.ID, Language: "auto", SourceKind: domain.SourceModelWatched}, nil
}

func (f *fakeAnalyzer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSynthesizer struct {
	// synthErr fails every call; synthErrs fails the first calls in order.
	synthErr     error
	synthErrs    []error
	synthText    string
	metaErr      error
	metaText     string
	synthCalls   int
	metaCalls    int
	lastRecords  []domain.TranscriptRecord
	metaVideoCnt int
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _, _, _ string, records []domain.TranscriptRecord) (string, error) {
	f.synthCalls++
	f.lastRecords = records
	if f.synthErr != nil {
		return "", f.synthErr
	}
	if idx := f.synthCalls - 1; idx < len(f.synthErrs) && f.synthErrs[idx] != nil {
		return "", f.synthErrs[idx]
	}
	return f.synthText, nil
}

func (f *fakeSynthesizer) AnalyzeMetadata(_ context.Context, _, _, _ string, videos []domain.VideoRecord) (string, error) {
	f.metaCalls++
	f.metaVideoCnt = len(videos)
	if f.metaErr != nil {
		return "", f.metaErr
	}
	return f.metaText, nil
}

type fakeDossier struct {
	dossier *domain.WebDossier
	err     error
}

func (f *fakeDossier) Build(context.Context, string, string, string) (*domain.WebDossier, error) {
	return f.dossier, f.err
}

type fakeEncyclopedia struct {
	entry *domain.EncyclopediaEntry
	err   error
}

func (f *fakeEncyclopedia) Lookup(context.Context, string) (*domain.EncyclopediaEntry, error) {
	return f.entry, f.err
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  []domain.RunRecord
	finished map[string]string
	err      error
}

func (f *fakeRecorder) StartRun(_ context.Context, run domain.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, run)
	return f.err
}

func (f *fakeRecorder) FinishRun(_ context.Context, runID string, report *domain.ResearchReport, runErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished == nil {
		f.finished = make(map[string]string)
	}
	status := "completed"
	if report == nil {
		status = "failed: " + runErr
	}
	f.finished[runID] = status
	return f.err
}

type sleepLog struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepLog) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

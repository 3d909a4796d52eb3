package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/service/youtube"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

type NameChecker interface {
	Check(ctx context.Context, apiKey, rawName string) (string, error)
}

type VideoSearcher interface {
	Search(ctx context.Context, req youtube.SearchRequest) (*youtube.SearchResult, error)
}

type TranscriptFetcher interface {
	Fetch(ctx context.Context, video domain.VideoRecord) (*domain.TranscriptRecord, error)
}

type VideoAnalyzer interface {
	Analyze(ctx context.Context, apiKey, subject string, video domain.VideoRecord) (*domain.TranscriptRecord, error)
}

type CorpusSynthesizer interface {
	Synthesize(ctx context.Context, apiKey, subject, userContext string, records []domain.TranscriptRecord) (string, error)
	AnalyzeMetadata(ctx context.Context, apiKey, subject, userContext string, videos []domain.VideoRecord) (string, error)
}

type DossierBuilder interface {
	Build(ctx context.Context, apiKey, subject, userContext string) (*domain.WebDossier, error)
}

type EncyclopediaFetcher interface {
	Lookup(ctx context.Context, subject string) (*domain.EncyclopediaEntry, error)
}

// RunRecorder persists run history. Its failures never affect a run.
type RunRecorder interface {
	StartRun(ctx context.Context, run domain.RunRecord) error
	FinishRun(ctx context.Context, runID string, report *domain.ResearchReport, runErr string) error
}

type Dependencies struct {
	NameChecker  NameChecker
	Searcher     VideoSearcher
	Transcripts  TranscriptFetcher
	Analyzer     VideoAnalyzer
	Synthesizer  CorpusSynthesizer
	Dossier      DossierBuilder
	Encyclopedia EncyclopediaFetcher
	// Recorder is optional.
	Recorder RunRecorder
}

type OrchestratorConfig struct {
	DefaultKeys domain.APIKeys
	BufferSize  int
}

// Orchestrator runs the research state machine. It holds no per-run state;
// every run gets its own runState.
type Orchestrator struct {
	deps     Dependencies
	cfg      OrchestratorConfig
	sleep    util.Sleeper
	policyOf func(domain.Mode) ModePolicy
	newID    func() string
	logger   *zap.Logger
}

func NewOrchestrator(deps Dependencies, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		sleep:    util.SleepContext,
		policyOf: PolicyFor,
		newID:    uuid.NewString,
		logger:   util.OrNop(logger),
	}
}

// WithSleeper replaces every inter-call delay and backoff wait.
func (o *Orchestrator) WithSleeper(sleep util.Sleeper) *Orchestrator {
	o.sleep = sleep
	return o
}

// WithPolicy replaces the mode policy lookup.
func (o *Orchestrator) WithPolicy(policyOf func(domain.Mode) ModePolicy) *Orchestrator {
	o.policyOf = policyOf
	return o
}

// runState is the mutable state of one run. Each field is written only by
// the stage that owns it.
type runState struct {
	id      string
	req     domain.ResearchRequest
	keys    ResolvedKeys
	policy  ModePolicy
	stream  *Stream
	logger  *zap.Logger
	subject string

	videos      []domain.VideoRecord
	records     map[string]domain.TranscriptRecord
	order       []string
	transcripts int
	watched     int

	report domain.ResearchReport
}

func (rs *runState) emit(stage domain.Stage, status domain.StageStatus, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	rs.stream.Publish(domain.ProgressEvent{
		Stage:   stage,
		Status:  status,
		Message: util.TruncateString(msg, constants.StringLimits.ProgressMessage),
	})
}

func (rs *runState) addRecord(rec domain.TranscriptRecord) {
	if _, dup := rs.records[rec.VideoID]; dup {
		return
	}
	rs.records[rec.VideoID] = rec
	rs.order = append(rs.order, rec.VideoID)
	switch rec.SourceKind {
	case domain.SourceTranscript:
		rs.transcripts++
	case domain.SourceModelWatched:
		rs.watched++
	}
}

func (rs *runState) recordList() []domain.TranscriptRecord {
	out := make([]domain.TranscriptRecord, 0, len(rs.order))
	for _, id := range rs.order {
		out = append(out, rs.records[id])
	}
	return out
}

// Run validates the request, resolves credentials and starts the run. Input
// and credential problems are returned here, before any stage runs; every
// later outcome arrives on the stream as its terminal event.
func (o *Orchestrator) Run(ctx context.Context, req domain.ResearchRequest) (*Stream, error) {
	req.SubjectName = strings.TrimSpace(req.SubjectName)
	if req.SubjectName == "" {
		return nil, errors.NewValidationError("subjectName is required", "subjectName", "")
	}
	if !req.Mode.IsValid() {
		req.Mode = domain.ModeFree
	}

	keys, err := ResolveKeys(req.Keys, o.cfg.DefaultKeys)
	if err != nil {
		return nil, err
	}

	runID := o.newID()
	rs := &runState{
		id:      runID,
		req:     req,
		keys:    keys,
		policy:  o.policyOf(req.Mode),
		stream:  NewStream(runID, o.cfg.BufferSize),
		subject: req.SubjectName,
		records: make(map[string]domain.TranscriptRecord),
		logger: o.logger.With(
			zap.String("run_id", runID),
			zap.String("subject", req.SubjectName),
			zap.String("mode", req.Mode.String()),
		),
		report: domain.ResearchReport{
			RunID:       runID,
			SubjectName: req.SubjectName,
			Mode:        req.Mode,
		},
	}

	o.recordStart(ctx, rs)
	go o.execute(ctx, rs)
	return rs.stream, nil
}

func (o *Orchestrator) execute(ctx context.Context, rs *runState) {
	started := time.Now()
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			rs.logger.Error("Research run panicked", zap.Any("panic", r))
			runErr = fmt.Errorf("internal error: %v", r)
		}
		o.finish(ctx, rs, runErr, time.Since(started))
	}()

	rs.emit(domain.StageStart, domain.StatusActive, "Researching %s", rs.subject)
	runErr = o.runStages(ctx, rs)
}

type stageFunc func(ctx context.Context, rs *runState) error

func (o *Orchestrator) runStages(ctx context.Context, rs *runState) error {
	stages := []stageFunc{
		o.nameCheck,
		o.mediaSearch,
		o.transcriptFetch,
		o.modelWatch,
		o.corpusSynthesis,
		o.webAndEncyclopedia,
		o.compile,
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stage(ctx, rs); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, rs *runState, runErr error, elapsed time.Duration) {
	if runErr != nil {
		rs.logger.Warn("Research run failed", zap.Duration("elapsed", elapsed), zap.Error(runErr))
		o.recordFinish(ctx, rs, nil, errors.UserMessage(runErr))
		rs.stream.Finish(domain.Event{Error: &domain.RunError{
			Code:    errors.CodeOf(runErr),
			Message: errors.UserMessage(runErr),
		}})
		return
	}

	report := rs.report
	rs.logger.Info("Research run completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("videos", report.TotalVideosFound),
		zap.Int("analyzed", report.VideosAnalyzedCount),
		zap.Bool("metadata_fallback", report.UsedMetadataFallback),
		zap.Int("dropped_events", rs.stream.Dropped()),
	)
	o.recordFinish(ctx, rs, &report, "")

	rs.emit(domain.StageComplete, domain.StatusDone, "Research complete")
	rs.stream.Finish(domain.Event{Result: &report})
}

func (o *Orchestrator) recordStart(ctx context.Context, rs *runState) {
	if o.deps.Recorder == nil {
		return
	}
	err := o.deps.Recorder.StartRun(context.WithoutCancel(ctx), domain.RunRecord{
		ID:          rs.id,
		UserID:      rs.req.UserID,
		SubjectName: rs.subject,
		Mode:        rs.req.Mode,
		Status:      domain.RunStatusRunning,
		StartedAt:   time.Now(),
	})
	if err != nil {
		rs.logger.Warn("Failed to record run start", zap.Error(err))
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, rs *runState, report *domain.ResearchReport, runErr string) {
	if o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.FinishRun(context.WithoutCancel(ctx), rs.id, report, runErr); err != nil {
		rs.logger.Warn("Failed to record run finish", zap.Error(err))
	}
}

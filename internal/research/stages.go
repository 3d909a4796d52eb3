package research

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/service/youtube"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// acceptCorrection keeps the original name unless candidate is a plausible
// single-line name.
func acceptCorrection(original, candidate string) string {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" ||
		strings.ContainsAny(candidate, "\r\n") ||
		utf8.RuneCountInString(candidate) > constants.NameCheckConfig.MaxNameLength {
		return original
	}
	return candidate
}

func (o *Orchestrator) nameCheck(ctx context.Context, rs *runState) error {
	rs.emit(domain.StageNameCheck, domain.StatusActive, "Checking the spelling of %q", rs.subject)

	answer, err := o.deps.NameChecker.Check(ctx, rs.keys.LLMKey, rs.subject)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rs.logger.Warn("Name check failed, keeping original", zap.Error(err))
		rs.emit(domain.StageNameCheck, domain.StatusDone, "Using %q", rs.subject)
		return nil
	}

	name := acceptCorrection(rs.subject, answer)
	if name != rs.subject {
		rs.logger.Info("Subject name corrected", zap.String("corrected", name))
		rs.report.CorrectedName = name
		rs.subject = name
		rs.emit(domain.StageNameCheck, domain.StatusDone, "Corrected to %q", name)
		return nil
	}
	rs.emit(domain.StageNameCheck, domain.StatusDone, "Using %q", rs.subject)
	return nil
}

func (o *Orchestrator) mediaSearch(ctx context.Context, rs *runState) error {
	opts := rs.policy.SearchOptions(rs.subject)
	rs.emit(domain.StageMediaSearch, domain.StatusActive, "Searching YouTube with %d queries", len(opts.Queries))

	result, err := o.deps.Searcher.Search(ctx, youtube.SearchRequest{
		Subject:     rs.subject,
		APIKey:      rs.keys.SearchKey,
		UsingOwnKey: rs.keys.OwnSearchKey,
		Options:     opts,
		OnQuery: func(done, total, collected int) {
			rs.emit(domain.StageMediaSearch, domain.StatusActive, "Query %d/%d, %d videos so far", done, total, collected)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.IsQuotaExhausted(err) || errors.IsConfiguration(err) {
			rs.emit(domain.StageMediaSearch, domain.StatusError, "%s", errors.UserMessage(err))
			return err
		}
		// anything else degrades to an empty video set
		rs.logger.Warn("Media search failed", zap.Error(err))
		rs.emit(domain.StageMediaSearch, domain.StatusError, "Video search failed, continuing without videos")
		return nil
	}

	rs.videos = result.Videos
	rs.report.Videos = result.Videos
	rs.report.TotalVideosFound = len(result.Videos)
	if result.QuotaErrors > 0 {
		rs.emit(domain.StageMediaSearch, domain.StatusDone, "Found %d relevant videos (%d collected, search stopped early on quota)",
			len(result.Videos), result.TotalCollected)
		return nil
	}
	rs.emit(domain.StageMediaSearch, domain.StatusDone, "Found %d relevant videos (%d collected)", len(result.Videos), result.TotalCollected)
	return nil
}

func (o *Orchestrator) transcriptFetch(ctx context.Context, rs *runState) error {
	total := len(rs.videos)
	if total == 0 {
		rs.emit(domain.StageTranscriptFetch, domain.StatusDone, "No videos to fetch transcripts for")
		return nil
	}
	rs.emit(domain.StageTranscriptFetch, domain.StatusActive, "Fetching transcripts for %d videos", total)

	for i, video := range rs.videos {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := o.deps.Transcripts.Fetch(ctx, video)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rs.logger.Debug("Transcript fetch failed", zap.String("video_id", video.ID), zap.Error(err))
		}
		if rec != nil {
			rec.VideoID = video.ID
			rec.SourceKind = domain.SourceTranscript
			rs.addRecord(*rec)
		}
		rs.emit(domain.StageTranscriptFetch, domain.StatusActive, "Transcripts: %d/%d (checked %d)", rs.transcripts, total, i+1)
	}

	rs.emit(domain.StageTranscriptFetch, domain.StatusDone, "Transcripts: %d/%d", rs.transcripts, total)
	return nil
}

type watchOutcome struct {
	record *domain.TranscriptRecord
	err    error
}

func (o *Orchestrator) modelWatch(ctx context.Context, rs *runState) error {
	pending := make([]domain.VideoRecord, 0)
	for _, v := range rs.videos {
		if _, ok := rs.records[v.ID]; !ok {
			pending = append(pending, v)
		}
	}
	if len(pending) == 0 {
		rs.emit(domain.StageModelWatch, domain.StatusDone, "No videos need AI analysis")
		return nil
	}

	skipped := 0
	if limit := rs.policy.ModelWatchCap; limit > 0 && len(pending) > limit {
		skipped = len(pending) - limit
		pending = pending[:limit]
	}
	rs.emit(domain.StageModelWatch, domain.StatusActive, "AI analyzing %d videos without transcripts (%d skipped)", len(pending), skipped)

	batchSize := max(rs.policy.ModelWatchBatchSize, 1)
	breaker := util.NewCircuitBreaker("model_watch:"+rs.id, rs.policy.FailureThreshold, rs.logger)
	attempted := 0

	// A batch never holds more calls than the breaker has failures left, so an
	// unbroken failure streak issues exactly threshold calls.
	for start := 0; start < len(pending); {
		if err := ctx.Err(); err != nil {
			return err
		}
		if start > 0 {
			if err := o.sleep(ctx, rs.policy.ModelWatchDelay); err != nil {
				return err
			}
		}

		size := min(batchSize, breaker.Remaining(), len(pending)-start)
		batch := pending[start : start+size]
		start += size
		outcomes := o.watchBatch(ctx, rs, batch)
		attempted += len(batch)

		tripped := 0
		for i, out := range outcomes {
			if out.err == nil && out.record != nil {
				breaker.RecordSuccess()
				rec := *out.record
				rec.VideoID = batch[i].ID
				rec.SourceKind = domain.SourceModelWatched
				rs.addRecord(rec)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rs.logger.Debug("Video analysis failed", zap.String("video_id", batch[i].ID), zap.Error(out.err))
			if breaker.RecordFailure(out.err) {
				tripped = breaker.GetStatus().ConsecutiveFailure
				break
			}
		}

		rs.emit(domain.StageModelWatch, domain.StatusActive, "AI analyzed %d/%d (%d attempted)", rs.watched, len(pending), attempted)

		if tripped > 0 {
			rs.emit(domain.StageModelWatch, domain.StatusError,
				"Stopped after %d consecutive failures, the model quota is likely exhausted (%d/%d analyzed)",
				tripped, rs.watched, len(pending))
			return nil
		}
	}

	rs.emit(domain.StageModelWatch, domain.StatusDone, "AI analyzed %d/%d videos (%d skipped)", rs.watched, len(pending), skipped)
	return nil
}

// watchBatch analyzes the batch concurrently. Each call writes only its own slot.
func (o *Orchestrator) watchBatch(ctx context.Context, rs *runState, batch []domain.VideoRecord) []watchOutcome {
	outcomes := make([]watchOutcome, len(batch))
	analyze := func(i int) {
		callCtx, cancel := context.WithTimeout(ctx, rs.policy.ModelWatchTimeout)
		defer cancel()
		rec, err := o.deps.Analyzer.Analyze(callCtx, rs.keys.LLMKey, rs.subject, batch[i])
		outcomes[i] = watchOutcome{record: rec, err: err}
	}

	if len(batch) == 1 {
		analyze(0)
		return outcomes
	}

	var wg conc.WaitGroup
	for i := range batch {
		wg.Go(func() { analyze(i) })
	}
	wg.Wait()
	return outcomes
}

func (o *Orchestrator) corpusSynthesis(ctx context.Context, rs *runState) error {
	records := rs.recordList()
	rs.report.VideosAnalyzedCount = len(records)
	rs.report.TranscriptsAccepted = rs.transcripts
	rs.report.ModelWatchedAccepted = rs.watched

	if len(records) > 0 {
		rs.emit(domain.StageCorpusSynthesis, domain.StatusActive, "Synthesizing %d sources", len(records))
		text, err := o.synthesizeWithRetry(ctx, rs, records)
		if err == nil {
			rs.report.VideoAnalysisText = text
			rs.emit(domain.StageCorpusSynthesis, domain.StatusDone, "Deep analysis of %d sources complete", len(records))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rs.logger.Warn("Corpus synthesis failed, falling back to metadata", zap.Error(err))
	}

	if len(rs.videos) == 0 {
		rs.emit(domain.StageCorpusSynthesis, domain.StatusDone, "No video material to analyze")
		return nil
	}

	metaCount := min(len(rs.videos), constants.SynthesisConfig.MetadataVideoCap)
	rs.emit(domain.StageCorpusSynthesis, domain.StatusActive, "Falling back to metadata analysis of %d videos", metaCount)
	text, err := o.deps.Synthesizer.AnalyzeMetadata(ctx, rs.keys.LLMKey, rs.subject, rs.req.Context, rs.videos)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rs.logger.Warn("Metadata analysis failed", zap.Error(err))
		rs.emit(domain.StageCorpusSynthesis, domain.StatusError, "Video analysis unavailable")
		return nil
	}

	rs.report.VideoAnalysisText = text
	rs.report.UsedMetadataFallback = true
	rs.emit(domain.StageCorpusSynthesis, domain.StatusDone, "Metadata analysis of %d videos complete", metaCount)
	return nil
}

// synthesizeWithRetry retries rate-limited attempts only, waiting attempt × unit.
func (o *Orchestrator) synthesizeWithRetry(ctx context.Context, rs *runState, records []domain.TranscriptRecord) (string, error) {
	maxAttempts := constants.SynthesisConfig.MaxAttempts
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := o.deps.Synthesizer.Synthesize(ctx, rs.keys.LLMKey, rs.subject, rs.req.Context, records)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if err == nil {
			err = errors.NewMalformedResponseError("synthesis", "", nil)
		}
		lastErr = err
		if !errors.IsRateLimited(err) || attempt == maxAttempts {
			break
		}

		wait := time.Duration(attempt) * constants.SynthesisConfig.BackoffUnit
		rs.emit(domain.StageCorpusSynthesis, domain.StatusActive, "Rate limited, retrying in %s (attempt %d/%d)", wait, attempt+1, maxAttempts)
		if err := o.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (o *Orchestrator) webAndEncyclopedia(ctx context.Context, rs *runState) error {
	rs.emit(domain.StageWebAndEncyclopedia, domain.StatusActive, "Compiling web dossier and encyclopedia entry")

	var (
		dossier    *domain.WebDossier
		dossierErr error
		entry      *domain.EncyclopediaEntry
		entryErr   error
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		dossier, dossierErr = o.deps.Dossier.Build(ctx, rs.keys.LLMKey, rs.subject, rs.req.Context)
	})
	wg.Go(func() {
		entry, entryErr = o.deps.Encyclopedia.Lookup(ctx, rs.subject)
	})
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if dossierErr != nil {
		rs.logger.Warn("Web dossier failed", zap.Error(dossierErr))
		dossier = nil
	}
	if entryErr != nil {
		rs.logger.Warn("Encyclopedia lookup failed", zap.Error(entryErr))
		entry = nil
	}
	rs.report.WebDossier = dossier
	rs.report.Encyclopedia = entry

	parts := make([]string, 0, 2)
	switch {
	case dossier == nil:
		parts = append(parts, "web dossier unavailable")
	case dossier.SourceKind == domain.DossierLiveSearch:
		parts = append(parts, "web dossier from live search")
	default:
		parts = append(parts, "web dossier from model knowledge")
	}
	if entry != nil {
		parts = append(parts, "encyclopedia entry found")
	} else {
		parts = append(parts, "no encyclopedia entry")
	}
	rs.emit(domain.StageWebAndEncyclopedia, domain.StatusDone, "%s", strings.Join(parts, ", "))
	return nil
}

const compileSeparator = "\n\n---\n\n"

// Compile joins the non-empty sections in fixed order.
func Compile(videoAnalysis string, entry *domain.EncyclopediaEntry, dossier *domain.WebDossier) string {
	sections := make([]string, 0, 3)
	if text := strings.TrimSpace(videoAnalysis); text != "" {
		sections = append(sections, "## Video Analysis\n\n"+text)
	}
	if text := strings.TrimSpace(entry.Text()); text != "" {
		sections = append(sections, "## Encyclopedia\n\n"+text)
	}
	if dossier != nil {
		if text := strings.TrimSpace(dossier.ProfileText); text != "" {
			sections = append(sections, "## Web Dossier\n\n"+text)
		}
	}
	return strings.Join(sections, compileSeparator)
}

func (o *Orchestrator) compile(_ context.Context, rs *runState) error {
	rs.emit(domain.StageCompile, domain.StatusActive, "Compiling report")
	rs.report.VideoAnalysisText = strings.TrimSpace(rs.report.VideoAnalysisText)
	rs.report.CombinedNarrative = Compile(rs.report.VideoAnalysisText, rs.report.Encyclopedia, rs.report.WebDossier)
	rs.emit(domain.StageCompile, domain.StatusDone, "Report ready (%d characters)", utf8.RuneCountInString(rs.report.CombinedNarrative))
	return nil
}

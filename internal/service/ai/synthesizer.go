package ai

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/prompt"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

// Synthesizer turns the collected corpus, or plain video metadata, into the
// video-analysis narrative. Each method makes exactly one model call.
type Synthesizer struct {
	mm     *ModelManager
	logger *zap.Logger
}

func NewSynthesizer(mm *ModelManager, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{mm: mm, logger: util.OrNop(logger)}
}

func (s *Synthesizer) Synthesize(ctx context.Context, apiKey, subject, userContext string, records []domain.TranscriptRecord) (string, error) {
	entries := BuildCorpus(records, constants.SynthesisConfig.MaxCorpusChars)
	if len(entries) == 0 {
		return "", errors.NewValidationError("corpus is empty", "records", len(records))
	}

	promptText, err := prompt.BuildCorpusSynthesisPrompt(prompt.CorpusSynthesisData{
		Subject: subject,
		Context: userContext,
		Entries: entries,
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Synthesizing corpus",
		zap.String("subject", subject),
		zap.Int("entries", len(entries)),
		zap.Int("records", len(records)),
	)
	return s.generate(ctx, apiKey, promptText, PresetSynthesis)
}

// AnalyzeMetadata analyzes the first videos by title, channel, date and description.
func (s *Synthesizer) AnalyzeMetadata(ctx context.Context, apiKey, subject, userContext string, videos []domain.VideoRecord) (string, error) {
	if len(videos) == 0 {
		return "", errors.NewValidationError("no videos to analyze", "videos", 0)
	}
	limit := min(len(videos), constants.SynthesisConfig.MetadataVideoCap)

	items := make([]prompt.MetadataVideo, 0, limit)
	for _, v := range videos[:limit] {
		item := prompt.MetadataVideo{
			Title:       v.Title,
			ChannelName: v.ChannelName,
			Description: util.TruncateString(util.CollapseWhitespace(v.Description), constants.SynthesisConfig.MaxDescriptionLen),
		}
		if !v.PublishedAt.IsZero() {
			item.PublishedAt = v.PublishedAt.Format("2006-01-02")
		}
		items = append(items, item)
	}

	promptText, err := prompt.BuildMetadataAnalysisPrompt(prompt.MetadataAnalysisData{
		Subject: subject,
		Context: userContext,
		Videos:  items,
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Analyzing video metadata", zap.String("subject", subject), zap.Int("videos", limit))
	return s.generate(ctx, apiKey, promptText, PresetMetadata)
}

func (s *Synthesizer) generate(ctx context.Context, apiKey, promptText string, preset ModelPreset) (string, error) {
	result, err := s.mm.Generate(ctx, apiKey, Request{Prompt: promptText, Preset: preset})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", errors.NewMalformedResponseError("Gemini", "", nil)
	}
	return text, nil
}

// BuildCorpus tags each record with its provenance and stops adding records
// once maxChars of transcript text would be exceeded.
func BuildCorpus(records []domain.TranscriptRecord, maxChars int) []prompt.CorpusEntry {
	entries := make([]prompt.CorpusEntry, 0, len(records))
	total := 0
	for _, r := range records {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		n := utf8.RuneCountInString(text)
		if maxChars > 0 && total+n > maxChars {
			if len(entries) > 0 {
				break
			}
			text = util.CapRunes(text, maxChars)
			n = maxChars
		}
		total += n

		provenance := "TRANSCRIPT"
		if r.SourceKind == domain.SourceModelWatched {
			provenance = "AI VIDEO ANALYSIS"
		}
		entries = append(entries, prompt.CorpusEntry{
			Title:       r.Title,
			ChannelName: r.ChannelName,
			Language:    r.Language,
			Provenance:  provenance,
			Text:        text,
		})
	}
	return entries
}

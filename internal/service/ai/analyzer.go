package ai

import (
	"context"
	"strings"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/prompt"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

// notPresentMarker is the model's answer when the subject is not in the video.
const notPresentMarker = "NOT_PRESENT"

// VideoAnalyzer has the model watch a video and write a research note.
type VideoAnalyzer struct {
	mm     *ModelManager
	logger *zap.Logger
}

func NewVideoAnalyzer(mm *ModelManager, logger *zap.Logger) *VideoAnalyzer {
	return &VideoAnalyzer{mm: mm, logger: util.OrNop(logger)}
}

// Analyze returns a model-watched record for video. Empty answers and
// NOT_PRESENT are failures.
func (a *VideoAnalyzer) Analyze(ctx context.Context, apiKey, subject string, video domain.VideoRecord) (*domain.TranscriptRecord, error) {
	data := prompt.VideoAnalysisData{
		Subject:     subject,
		Title:       video.Title,
		ChannelName: video.ChannelName,
	}
	if !video.PublishedAt.IsZero() {
		data.PublishedAt = video.PublishedAt.Format("2006-01-02")
	}
	promptText, err := prompt.BuildVideoAnalysisPrompt(data)
	if err != nil {
		return nil, err
	}

	result, err := a.mm.Generate(ctx, apiKey, Request{
		Prompt:   promptText,
		Preset:   PresetVideoAnalysis,
		VideoURI: video.WatchURL(),
	})
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(result.Text)
	if text == "" || strings.HasPrefix(text, notPresentMarker) {
		a.logger.Debug("Video analysis rejected",
			zap.String("video_id", video.ID),
			zap.Bool("not_present", text != ""),
		)
		return nil, errors.NewProviderError("subject not present in video", "Gemini", "video_analysis", nil)
	}

	return &domain.TranscriptRecord{
		VideoID:     video.ID,
		Title:       video.Title,
		ChannelName: video.ChannelName,
		Text:        util.CapRunes(text, constants.ModelWatchConfig.MaxAnalysisChars),
		Language:    "auto",
		SourceKind:  domain.SourceModelWatched,
	}, nil
}

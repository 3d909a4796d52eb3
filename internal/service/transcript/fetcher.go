package transcript

import (
	"context"
	"unicode/utf8"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/service/cache"
	"github.com/kapu/guest-research-go/internal/util"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AutoDetect is the first strategy: the page's own preferred track.
const AutoDetect = "auto"

type Options struct {
	Languages []string
	MinChars  int
	MaxChars  int
	// Limiter paces fetches; nil uses the configured fetch interval.
	Limiter *rate.Limiter
}

// Fetcher retrieves one transcript per video, trying auto-detect and then a
// fixed language list until a track yields enough text.
type Fetcher struct {
	source  CaptionSource
	cache   cache.Store
	logger  *zap.Logger
	limiter *rate.Limiter
	langs   []string
	minLen  int
	maxLen  int
}

func NewFetcher(source CaptionSource, store cache.Store, logger *zap.Logger, opts Options) *Fetcher {
	langs := opts.Languages
	if len(langs) == 0 {
		langs = constants.TranscriptLanguages
	}
	minLen := opts.MinChars
	if minLen <= 0 {
		minLen = constants.TranscriptConfig.MinChars
	}
	maxLen := opts.MaxChars
	if maxLen <= 0 {
		maxLen = constants.TranscriptConfig.MaxChars
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(constants.TranscriptConfig.FetchInterval), 1)
	}
	return &Fetcher{
		source:  source,
		cache:   cache.OrNoop(store),
		logger:  util.OrNop(logger),
		limiter: limiter,
		langs:   langs,
		minLen:  minLen,
		maxLen:  maxLen,
	}
}

// Strategies returns the ordered language strategies, starting with AutoDetect.
func (f *Fetcher) Strategies() []string {
	out := make([]string, 0, len(f.langs)+1)
	out = append(out, AutoDetect)
	out = append(out, f.langs...)
	return out
}

// Fetch returns the accepted transcript, or nil when none qualifies. Errors are
// only returned for cancellation.
func (f *Fetcher) Fetch(ctx context.Context, video domain.VideoRecord) (*domain.TranscriptRecord, error) {
	cacheKey := "transcript:" + video.ID
	var cached domain.TranscriptRecord
	if found, err := f.cache.Get(ctx, cacheKey, &cached); err == nil && found && cached.Text != "" {
		return &cached, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	tracks, err := f.source.ListTracks(ctx, video.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Debug("Caption track listing failed", zap.String("video_id", video.ID), zap.Error(err))
		return nil, nil
	}
	if len(tracks) == 0 {
		return nil, nil
	}

	tried := make(map[string]struct{})
	for _, strategy := range f.Strategies() {
		track, ok := selectTrack(tracks, strategy)
		if !ok {
			continue
		}
		if _, done := tried[track.BaseURL]; done {
			continue
		}
		tried[track.BaseURL] = struct{}{}

		raw, err := f.source.FetchTrack(ctx, track)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Debug("Caption download failed",
				zap.String("video_id", video.ID),
				zap.String("strategy", strategy),
				zap.Error(err))
			continue
		}

		text := util.CleanCaptionText(raw)
		if utf8.RuneCountInString(text) <= f.minLen {
			continue
		}

		record := &domain.TranscriptRecord{
			VideoID:     video.ID,
			Title:       video.Title,
			ChannelName: video.ChannelName,
			Text:        util.CapRunes(text, f.maxLen),
			Language:    track.LanguageCode,
			SourceKind:  domain.SourceTranscript,
		}
		if err := f.cache.Set(ctx, cacheKey, record, constants.CacheTTL.Transcript); err != nil {
			f.logger.Debug("Transcript cache write failed", zap.Error(err))
		}
		return record, nil
	}

	return nil, nil
}

// selectTrack picks the track for one strategy. Manual tracks win over asr.
func selectTrack(tracks []CaptionTrack, strategy string) (CaptionTrack, bool) {
	if len(tracks) == 0 {
		return CaptionTrack{}, false
	}
	if strategy == AutoDetect {
		for _, t := range tracks {
			if !t.IsAuto() {
				return t, true
			}
		}
		return tracks[0], true
	}
	for _, t := range tracks {
		if t.LanguageCode == strategy && !t.IsAuto() {
			return t, true
		}
	}
	for _, t := range tracks {
		if t.LanguageCode == strategy {
			return t, true
		}
	}
	return CaptionTrack{}, false
}

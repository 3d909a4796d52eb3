package research

import (
	"time"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/service/youtube"
)

// ModePolicy holds every Free/Pro difference. Stages read it; nothing else
// branches on the mode.
type ModePolicy struct {
	Mode               domain.Mode
	QueryTemplates     []string
	MaxResultsPerQuery int64
	// MaxTotalVideos of 0 means unbounded.
	MaxTotalVideos int
	// QuotaErrorLimit of 0 means one per query.
	QuotaErrorLimit int
	SearchDelay     time.Duration

	// ModelWatchCap of 0 means unbounded.
	ModelWatchCap       int
	ModelWatchBatchSize int
	FailureThreshold    int
	ModelWatchDelay     time.Duration
	ModelWatchTimeout   time.Duration
}

func PolicyFor(mode domain.Mode) ModePolicy {
	if mode == domain.ModePro {
		templates := make([]string, 0, len(youtube.BaseQueryTemplates)+len(youtube.ExtraQueryTemplates))
		templates = append(templates, youtube.BaseQueryTemplates...)
		templates = append(templates, youtube.ExtraQueryTemplates...)
		return ModePolicy{
			Mode:                domain.ModePro,
			QueryTemplates:      templates,
			MaxResultsPerQuery:  constants.SearchConfig.ProMaxResultsPerQuery,
			SearchDelay:         constants.SearchConfig.ProQueryDelay,
			ModelWatchBatchSize: constants.ModelWatchConfig.ProBatchSize,
			FailureThreshold:    constants.ModelWatchConfig.ProFailureThreshold,
			ModelWatchDelay:     constants.ModelWatchConfig.ProDelay,
			ModelWatchTimeout:   constants.ModelWatchConfig.CallTimeout,
		}
	}

	return ModePolicy{
		Mode:                domain.ModeFree,
		QueryTemplates:      youtube.BaseQueryTemplates,
		MaxResultsPerQuery:  constants.SearchConfig.FreeMaxResultsPerQuery,
		MaxTotalVideos:      constants.SearchConfig.FreeMaxTotalVideos,
		QuotaErrorLimit:     constants.SearchConfig.FreeQuotaErrorLimit,
		SearchDelay:         constants.SearchConfig.FreeQueryDelay,
		ModelWatchCap:       constants.ModelWatchConfig.FreeCap,
		ModelWatchBatchSize: constants.ModelWatchConfig.FreeBatchSize,
		FailureThreshold:    constants.ModelWatchConfig.FreeFailureThreshold,
		ModelWatchDelay:     constants.ModelWatchConfig.FreeDelay,
		ModelWatchTimeout:   constants.ModelWatchConfig.CallTimeout,
	}
}

// SearchOptions renders the search half of the policy for subject.
func (p ModePolicy) SearchOptions(subject string) youtube.SearchOptions {
	queries := youtube.BuildQueries(subject, p.QueryTemplates)
	quotaLimit := p.QuotaErrorLimit
	if quotaLimit <= 0 {
		quotaLimit = len(queries)
	}
	return youtube.SearchOptions{
		Queries:            queries,
		MaxResultsPerQuery: p.MaxResultsPerQuery,
		MaxTotalVideos:     p.MaxTotalVideos,
		QuotaErrorLimit:    quotaLimit,
		QueryDelay:         p.SearchDelay,
	}
}

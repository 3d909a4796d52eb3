package youtube

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/service/cache"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

// SearchOptions carries the mode-dependent limits for one search.
type SearchOptions struct {
	Queries            []string
	MaxResultsPerQuery int64
	// MaxTotalVideos caps the accumulated set; 0 means unbounded.
	MaxTotalVideos int
	// QuotaErrorLimit aborts the loop after this many quota failures.
	QuotaErrorLimit int
	QueryDelay      time.Duration
}

type SearchRequest struct {
	Subject     string
	APIKey      string
	UsingOwnKey bool
	Options     SearchOptions
	// OnQuery is called after every query with the running totals.
	OnQuery func(done, total, collected int)
}

type SearchResult struct {
	Videos         []domain.VideoRecord
	TotalCollected int
	QueriesRun     int
	QuotaErrors    int
	FailedQueries  int
}

// Searcher runs a query set sequentially, deduplicating by video id and
// filtering for relevance.
type Searcher struct {
	querier Querier
	cache   cache.Store
	logger  *zap.Logger
	sleep   util.Sleeper
}

func NewSearcher(querier Querier, store cache.Store, logger *zap.Logger) *Searcher {
	return &Searcher{
		querier: querier,
		cache:   cache.OrNoop(store),
		logger:  util.OrNop(logger),
		sleep:   util.SleepContext,
	}
}

// WithSleeper replaces the inter-query delay function.
func (s *Searcher) WithSleeper(sleep util.Sleeper) *Searcher {
	s.sleep = sleep
	return s
}

func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.APIKey == "" {
		return nil, errors.NewConfigurationError("YouTube API key is required", "youtube")
	}

	opts := req.Options
	quotaLimit := opts.QuotaErrorLimit
	if quotaLimit <= 0 {
		quotaLimit = len(opts.Queries)
	}

	seen := make(map[string]struct{})
	collected := make([]domain.VideoRecord, 0)
	result := &SearchResult{}

	for i, query := range opts.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if opts.MaxTotalVideos > 0 && len(collected) >= opts.MaxTotalVideos {
			s.logger.Debug("Video cap reached, stopping search",
				zap.Int("cap", opts.MaxTotalVideos))
			break
		}
		if i > 0 && opts.QueryDelay > 0 {
			if err := s.sleep(ctx, opts.QueryDelay); err != nil {
				return nil, err
			}
		}

		result.QueriesRun++
		videos, err := s.runQuery(ctx, req.APIKey, query, opts.MaxResultsPerQuery)
		if err != nil {
			if errors.IsConfiguration(err) {
				return nil, err
			}
			if IsQuotaError(err) {
				result.QuotaErrors++
				s.logger.Warn("Search query hit quota",
					zap.String("query", query),
					zap.Int("quota_errors", result.QuotaErrors),
					zap.Int("limit", quotaLimit))
				if result.QuotaErrors >= quotaLimit {
					s.logger.Warn("Quota error limit reached, aborting search")
					break
				}
			} else {
				result.FailedQueries++
				s.logger.Warn("Search query failed", zap.String("query", query), zap.Error(err))
			}
			if req.OnQuery != nil {
				req.OnQuery(i+1, len(opts.Queries), len(collected))
			}
			continue
		}

		for _, v := range videos {
			if _, dup := seen[v.ID]; dup {
				continue
			}
			if opts.MaxTotalVideos > 0 && len(collected) >= opts.MaxTotalVideos {
				break
			}
			seen[v.ID] = struct{}{}
			collected = append(collected, v)
		}

		if req.OnQuery != nil {
			req.OnQuery(i+1, len(opts.Queries), len(collected))
		}
	}

	if len(collected) == 0 && result.QuotaErrors > 0 && result.QuotaErrors == result.QueriesRun {
		return nil, errors.NewQuotaExhaustedError("YouTube", req.UsingOwnKey, result.QuotaErrors)
	}

	result.TotalCollected = len(collected)
	result.Videos = FilterRelevant(req.Subject, collected)

	s.logger.Info("Video search completed",
		zap.String("subject", req.Subject),
		zap.Int("queries", result.QueriesRun),
		zap.Int("collected", result.TotalCollected),
		zap.Int("relevant", len(result.Videos)),
		zap.Int("quota_errors", result.QuotaErrors),
	)

	return result, nil
}

func (s *Searcher) runQuery(ctx context.Context, apiKey, query string, maxResults int64) ([]domain.VideoRecord, error) {
	key := fmt.Sprintf("ytsearch:%d:%s", maxResults, strings.ToLower(query))

	var cached []domain.VideoRecord
	if found, err := s.cache.Get(ctx, key, &cached); err == nil && found {
		s.logger.Debug("Search cache hit", zap.String("query", query))
		return cached, nil
	}

	videos, err := s.querier.SearchVideos(ctx, apiKey, query, maxResults)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, key, videos, constants.CacheTTL.SearchResults); err != nil {
		s.logger.Debug("Search cache write failed", zap.Error(err))
	}
	return videos, nil
}

package youtube

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	dailyQuotaLimit   = 10000
	searchQuotaCost   = 100 // search.list cost
	quotaSafetyMargin = 2000
)

// Querier runs a single search query against the video provider.
type Querier interface {
	SearchVideos(ctx context.Context, apiKey, query string, maxResults int64) ([]domain.VideoRecord, error)
}

// DataAPIClient implements Querier on the YouTube Data API v3. Services are
// created lazily per API key because users may bring their own.
type DataAPIClient struct {
	logger   *zap.Logger
	mu       sync.Mutex
	services map[string]*youtube.Service
	usage    map[string]*quotaUsage
	opts     []option.ClientOption
}

type quotaUsage struct {
	used  int
	reset time.Time
}

func NewDataAPIClient(logger *zap.Logger, opts ...option.ClientOption) *DataAPIClient {
	return &DataAPIClient{
		logger:   util.OrNop(logger),
		services: make(map[string]*youtube.Service),
		usage:    make(map[string]*quotaUsage),
		opts:     opts,
	}
}

func (c *DataAPIClient) serviceFor(ctx context.Context, apiKey string) (*youtube.Service, error) {
	if apiKey == "" {
		return nil, errors.NewConfigurationError("YouTube API key is required", "youtube")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if svc, ok := c.services[apiKey]; ok {
		return svc, nil
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, c.opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	c.services[apiKey] = svc
	c.usage[apiKey] = &quotaUsage{reset: getNextQuotaReset()}
	return svc, nil
}

func getNextQuotaReset() time.Time {
	pt, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		pt = time.FixedZone("PT", -8*60*60)
	}
	now := time.Now().In(pt)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, pt)
}

// consumeQuota tracks estimated usage per key for logging only; the provider
// remains the source of truth for quota errors.
func (c *DataAPIClient) consumeQuota(apiKey string, cost int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.usage[apiKey]
	if !ok {
		return
	}
	if time.Now().After(u.reset) {
		u.used = 0
		u.reset = getNextQuotaReset()
	}
	u.used += cost
	remaining := dailyQuotaLimit - u.used

	c.logger.Debug("YouTube API quota consumed",
		zap.Int("cost", cost),
		zap.Int("used", u.used),
		zap.Int("remaining", remaining),
	)

	if remaining < quotaSafetyMargin {
		c.logger.Warn("YouTube API quota running low",
			zap.Int("remaining", remaining),
			zap.Time("resetTime", u.reset))
	}
}

func (c *DataAPIClient) SearchVideos(ctx context.Context, apiKey, query string, maxResults int64) ([]domain.VideoRecord, error) {
	svc, err := c.serviceFor(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	call := svc.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(maxResults).
		Order("relevance")

	response, err := call.Context(ctx).Do()
	c.consumeQuota(apiKey, searchQuotaCost)
	if err != nil {
		return nil, classifySearchError(err)
	}

	videos := make([]domain.VideoRecord, 0, len(response.Items))
	for _, item := range response.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		videos = append(videos, domain.VideoRecord{
			ID:           item.Id.VideoId,
			Title:        item.Snippet.Title,
			Description:  item.Snippet.Description,
			ChannelName:  item.Snippet.ChannelTitle,
			PublishedAt:  util.ParsePublishedAt(item.Snippet.PublishedAt),
			ThumbnailURL: extractThumbnail(item.Snippet.Thumbnails),
		})
	}

	return videos, nil
}

func classifySearchError(err error) error {
	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		reasons := make([]string, 0, len(apiErr.Errors))
		for _, item := range apiErr.Errors {
			reasons = append(reasons, item.Reason)
		}
		if apiErr.Code == 403 || apiErr.Code == 429 {
			if errors.LooksQuotaExceeded(apiErr.Message) || errors.LooksQuotaExceeded(strings.Join(reasons, " ")) {
				return &QuotaExceededError{Code: apiErr.Code, Reason: strings.Join(reasons, ","), Cause: err}
			}
		}
		return errors.NewProviderError("YouTube API error", "youtube", "search.list", err)
	}
	if errors.LooksQuotaExceeded(err.Error()) {
		return &QuotaExceededError{Reason: "quota", Cause: err}
	}
	return errors.NewProviderError("YouTube API error", "youtube", "search.list", err)
}

func extractThumbnail(thumbnails *youtube.ThumbnailDetails) string {
	if thumbnails == nil {
		return ""
	}

	if thumbnails.Maxres != nil && thumbnails.Maxres.Url != "" {
		return thumbnails.Maxres.Url
	}
	if thumbnails.High != nil && thumbnails.High.Url != "" {
		return thumbnails.High.Url
	}
	if thumbnails.Medium != nil && thumbnails.Medium.Url != "" {
		return thumbnails.Medium.Url
	}
	if thumbnails.Default != nil && thumbnails.Default.Url != "" {
		return thumbnails.Default.Url
	}

	return ""
}

// QuotaExceededError marks a single query that failed on provider quota.
type QuotaExceededError struct {
	Code   int
	Reason string
	Cause  error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("YouTube API quota exceeded (code %d, reason %s): %v", e.Code, e.Reason, e.Cause)
}

func (e *QuotaExceededError) Unwrap() error {
	return e.Cause
}

// IsQuotaError reports whether err is a quota condition, typed or by its text.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	// "context deadline exceeded" would otherwise match the text check
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return false
	}
	var quotaErr *QuotaExceededError
	if stderrors.As(err, &quotaErr) {
		return true
	}
	return errors.LooksQuotaExceeded(err.Error())
}

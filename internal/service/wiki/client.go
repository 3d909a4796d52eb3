package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/service/cache"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/kapu/guest-research-go/pkg/errors"
	"go.uber.org/zap"
)

const provider = "wikipedia"

// errNotFound marks a 404 from the summary endpoint.
var errNotFound = fmt.Errorf("wikipedia: page not found")

type summaryResponse struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Client looks up encyclopedia entries through the Wikipedia REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cache      cache.Store
	logger     *zap.Logger
}

func NewClient(httpClient *http.Client, baseURL string, store cache.Store, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.APIConfig.WikipediaTimeout}
	}
	if baseURL == "" {
		baseURL = constants.APIConfig.WikipediaBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cache:      cache.OrNoop(store),
		logger:     util.OrNop(logger),
	}
}

// Lookup returns the entry for subject, or nil when there is no article or
// only a disambiguation page. A direct miss triggers exactly one site search.
func (c *Client) Lookup(ctx context.Context, subject string) (*domain.EncyclopediaEntry, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, nil
	}

	cacheKey := "wiki:" + util.Normalize(subject)
	var cached domain.EncyclopediaEntry
	if found, _ := c.cache.Get(ctx, cacheKey, &cached); found {
		c.logger.Debug("Encyclopedia cache hit", zap.String("subject", subject))
		return &cached, nil
	}

	summary, err := c.fetchSummary(ctx, subject)
	if err == errNotFound {
		title, searchErr := c.search(ctx, subject)
		if searchErr != nil {
			return nil, searchErr
		}
		if title == "" {
			c.logger.Info("No encyclopedia article found", zap.String("subject", subject))
			return nil, nil
		}
		summary, err = c.fetchSummary(ctx, title)
	}
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if summary.Type == "disambiguation" {
		c.logger.Info("Encyclopedia lookup hit a disambiguation page",
			zap.String("subject", subject),
			zap.String("title", summary.Title),
		)
		return nil, nil
	}

	entry := &domain.EncyclopediaEntry{
		Title:   summary.Title,
		Summary: strings.TrimSpace(summary.Extract),
		URL:     summary.ContentURLs.Desktop.Page,
	}

	article, err := c.fetchArticle(ctx, summary.Title)
	if err != nil {
		c.logger.Warn("Encyclopedia article fetch failed, keeping summary only",
			zap.String("title", summary.Title),
			zap.Error(err),
		)
	} else {
		entry.Article = article
	}

	if err := c.cache.Set(ctx, cacheKey, entry, constants.CacheTTL.Encyclopedia); err != nil {
		c.logger.Warn("Failed to cache encyclopedia entry", zap.Error(err))
	}
	return entry, nil
}

func titlePath(title string) string {
	return url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", constants.APIConfig.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewProviderError("encyclopedia request failed", provider, "get", err)
	}
	return resp, nil
}

func (c *Client) fetchSummary(ctx context.Context, title string) (*summaryResponse, error) {
	resp, err := c.get(ctx, c.baseURL+"/api/rest_v1/page/summary/"+titlePath(title))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewProviderError(fmt.Sprintf("unexpected status code: %d", resp.StatusCode), provider, "summary", nil)
	}

	var summary summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, errors.NewMalformedResponseError(provider, "", err)
	}
	return &summary, nil
}

// search returns the best matching title from the opensearch endpoint.
func (c *Client) search(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("action", "opensearch")
	params.Set("search", query)
	params.Set("limit", "1")
	params.Set("namespace", "0")
	params.Set("format", "json")

	resp, err := c.get(ctx, c.baseURL+"/w/api.php?"+params.Encode())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.NewProviderError(fmt.Sprintf("unexpected status code: %d", resp.StatusCode), provider, "search", nil)
	}

	// [query, [titles], [descriptions], [urls]]
	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", errors.NewMalformedResponseError(provider, "", err)
	}
	if len(raw) < 2 {
		return "", nil
	}
	var titles []string
	if err := json.Unmarshal(raw[1], &titles); err != nil {
		return "", errors.NewMalformedResponseError(provider, "", err)
	}
	if len(titles) == 0 {
		return "", nil
	}
	return titles[0], nil
}

// fetchArticle returns the article's paragraph text, capped.
func (c *Client) fetchArticle(ctx context.Context, title string) (string, error) {
	resp, err := c.get(ctx, c.baseURL+"/api/rest_v1/page/html/"+titlePath(title))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", errors.NewProviderError(fmt.Sprintf("unexpected status code: %d", resp.StatusCode), provider, "article", nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("HTML parse failed: %w", err)
	}

	paragraphs := make([]string, 0)
	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text := util.CollapseWhitespace(sel.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	return util.CapRunes(strings.Join(paragraphs, "\n\n"), constants.APIConfig.MaxArticleChars), nil
}

package transcript

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kapu/guest-research-go/internal/constants"
	"github.com/kapu/guest-research-go/pkg/errors"
)

// CaptionTrack is one caption track advertised on a watch page.
type CaptionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

// IsAuto reports whether the track is speech-recognised.
func (t CaptionTrack) IsAuto() bool {
	return t.Kind == "asr"
}

// CaptionSource lists and downloads caption tracks for a video.
type CaptionSource interface {
	ListTracks(ctx context.Context, videoID string) ([]CaptionTrack, error)
	FetchTrack(ctx context.Context, track CaptionTrack) (string, error)
}

const playerResponseMarker = "ytInitialPlayerResponse"

type playerResponse struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []CaptionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

// WatchPageSource scrapes the public watch page for the caption track list and
// downloads timedtext XML.
type WatchPageSource struct {
	client  *http.Client
	baseURL string
}

func NewWatchPageSource(client *http.Client, baseURL string) *WatchPageSource {
	if client == nil {
		client = &http.Client{Timeout: constants.APIConfig.HTTPTimeout}
	}
	if baseURL == "" {
		baseURL = constants.APIConfig.WatchPageBaseURL
	}
	return &WatchPageSource{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *WatchPageSource) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cookie", "CONSENT=YES+1")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.NewProviderError("caption request failed", "youtube", "watch", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.NewProviderError(fmt.Sprintf("unexpected status %d", resp.StatusCode), "youtube", "watch", nil)
	}
	return resp, nil
}

func (s *WatchPageSource) ListTracks(ctx context.Context, videoID string) ([]CaptionTrack, error) {
	watchURL := fmt.Sprintf("%s/watch?v=%s&hl=en", s.baseURL, url.QueryEscape(videoID))
	resp, err := s.get(ctx, watchURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, constants.TranscriptConfig.MaxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse watch page: %w", err)
	}

	var payload string
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := sel.Text()
		idx := strings.Index(text, playerResponseMarker)
		if idx < 0 {
			return true
		}
		if obj, ok := extractJSONObject(text[idx+len(playerResponseMarker):]); ok {
			payload = obj
			return false
		}
		return true
	})
	if payload == "" {
		return nil, fmt.Errorf("%s not found in watch page", playerResponseMarker)
	}

	var player playerResponse
	if err := json.Unmarshal([]byte(payload), &player); err != nil {
		return nil, errors.NewMalformedResponseError("youtube", "", err)
	}
	if player.Captions == nil {
		if player.PlayabilityStatus != nil && player.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("captions unavailable: %s", player.PlayabilityStatus.Reason)
		}
		return nil, nil
	}

	tracks := make([]CaptionTrack, 0)
	for _, t := range player.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks {
		// &exp=xpe tracks need a browser PoToken
		if t.BaseURL == "" || strings.Contains(t.BaseURL, "&exp=xpe") {
			continue
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

type timedText struct {
	Lines []timedLine `xml:"text"`
	Body  struct {
		Paragraphs []timedParagraph `xml:"p"`
	} `xml:"body"`
}

type timedLine struct {
	Text string `xml:",chardata"`
}

type timedParagraph struct {
	Text     string   `xml:",chardata"`
	Segments []string `xml:"s"`
}

func (s *WatchPageSource) FetchTrack(ctx context.Context, track CaptionTrack) (string, error) {
	resp, err := s.get(ctx, track.BaseURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.TranscriptConfig.MaxXMLBytes))
	if err != nil {
		return "", err
	}
	return parseTimedText(body)
}

func parseTimedText(body []byte) (string, error) {
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", errors.NewMalformedResponseError("youtube", "", err)
	}

	parts := make([]string, 0, len(tt.Lines)+len(tt.Body.Paragraphs))
	for _, line := range tt.Lines {
		parts = append(parts, line.Text)
	}
	for _, p := range tt.Body.Paragraphs {
		parts = append(parts, p.Text)
		parts = append(parts, p.Segments...)
	}
	return strings.Join(parts, " "), nil
}

// extractJSONObject returns the first balanced {...} object in s, honouring
// string literals and escapes.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

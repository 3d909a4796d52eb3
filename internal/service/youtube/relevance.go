package youtube

import (
	"sort"
	"strings"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/util"
)

// IsRelevant keeps a video when any of these hold:
//   - the full name appears in title, description or channel
//   - the last name token appears in the title
//   - both first and last tokens appear anywhere
//   - the channel name contains either token
//
// Token matching is by substring, so common short tokens can over-match.
func IsRelevant(subject string, video domain.VideoRecord) bool {
	tokens := util.NameTokens(subject)
	if len(tokens) == 0 {
		return false
	}
	fullName := strings.Join(tokens, " ")
	first, last := tokens[0], tokens[len(tokens)-1]

	title := strings.ToLower(video.Title)
	channel := strings.ToLower(video.ChannelName)
	haystack := title + " " + strings.ToLower(video.Description) + " " + channel

	switch {
	case strings.Contains(haystack, fullName):
		return true
	case strings.Contains(title, last):
		return true
	case strings.Contains(haystack, first) && strings.Contains(haystack, last):
		return true
	case strings.Contains(channel, first) || strings.Contains(channel, last):
		return true
	}
	return false
}

// FilterRelevant drops irrelevant videos and orders the rest newest first.
func FilterRelevant(subject string, videos []domain.VideoRecord) []domain.VideoRecord {
	kept := make([]domain.VideoRecord, 0, len(videos))
	for _, v := range videos {
		if IsRelevant(subject, v) {
			kept = append(kept, v)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].PublishedAt.After(kept[j].PublishedAt)
	})
	return kept
}

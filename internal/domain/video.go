package domain

import "time"

type VideoRecord struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ChannelName  string    `json:"channelName"`
	PublishedAt  time.Time `json:"publishedAt"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
}

// WatchURL returns the public watch page for the video.
func (v *VideoRecord) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + v.ID
}

type SourceKind string

const (
	SourceTranscript   SourceKind = "transcript"
	SourceModelWatched SourceKind = "model_watched"
)

func (s SourceKind) String() string {
	return string(s)
}

// TranscriptRecord is the text evidence for one video. A video yields at most one,
// either from captions or from a model watching it.
type TranscriptRecord struct {
	VideoID     string     `json:"videoId"`
	Title       string     `json:"title"`
	ChannelName string     `json:"channelName"`
	Text        string     `json:"text"`
	Language    string     `json:"language"`
	SourceKind  SourceKind `json:"sourceKind"`
}

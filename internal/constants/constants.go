package constants

import "time"

var CacheTTL = struct {
	Transcript    time.Duration
	Encyclopedia  time.Duration
	SearchResults time.Duration
}{
	Transcript:    24 * time.Hour, // transcripts rarely change
	Encyclopedia:  12 * time.Hour,
	SearchResults: 2 * time.Hour,
}

var RedisConfig = struct {
	ReadyTimeout time.Duration
}{
	ReadyTimeout: 5 * time.Second,
}

var SearchConfig = struct {
	FreeMaxResultsPerQuery int64
	ProMaxResultsPerQuery  int64
	FreeMaxTotalVideos     int
	FreeQuotaErrorLimit    int
	FreeQueryDelay         time.Duration
	ProQueryDelay          time.Duration
}{
	FreeMaxResultsPerQuery: 10,
	ProMaxResultsPerQuery:  25,
	FreeMaxTotalVideos:     40,
	FreeQuotaErrorLimit:    3,
	FreeQueryDelay:         300 * time.Millisecond,
	ProQueryDelay:          100 * time.Millisecond,
}

var TranscriptConfig = struct {
	MinChars      int
	MaxChars      int
	FetchInterval time.Duration
	MaxXMLBytes   int64
	MaxPageBytes  int64
}{
	MinChars:      200,
	MaxChars:      20000,
	FetchInterval: 750 * time.Millisecond,
	MaxXMLBytes:   2 << 20,
	MaxPageBytes:  8 << 20,
}

// TranscriptLanguages is tried in order after auto-detect.
var TranscriptLanguages = []string{"en", "en-US", "en-GB", "es", "fr", "de", "pt", "it", "ja", "ko", "zh-Hans", "hi"}

var ModelWatchConfig = struct {
	CallTimeout          time.Duration
	FreeCap              int
	FreeBatchSize        int
	ProBatchSize         int
	FreeFailureThreshold int
	ProFailureThreshold  int
	FreeDelay            time.Duration
	ProDelay             time.Duration
	MaxAnalysisChars     int
}{
	CallTimeout:          30 * time.Second, // per video
	FreeCap:              15,
	FreeBatchSize:        1,
	ProBatchSize:         3,
	FreeFailureThreshold: 3,
	ProFailureThreshold:  5,
	FreeDelay:            4 * time.Second,
	ProDelay:             1500 * time.Millisecond,
	MaxAnalysisChars:     8000,
}

var SynthesisConfig = struct {
	MaxAttempts       int
	BackoffUnit       time.Duration
	MetadataVideoCap  int
	MaxCorpusChars    int
	MaxDescriptionLen int
}{
	MaxAttempts:       3,
	BackoffUnit:       5 * time.Second, // attempt × 5s
	MetadataVideoCap:  80,
	MaxCorpusChars:    400000,
	MaxDescriptionLen: 300,
}

var QuestionConfig = struct {
	TriesPerModel     int
	RateLimitCooldown time.Duration
	MaxResearchChars  int
	DefaultCount      int
	MaxCount          int
}{
	TriesPerModel:     2,
	RateLimitCooldown: 10 * time.Second,
	MaxResearchChars:  12000,
	DefaultCount:      10,
	MaxCount:          30,
}

var NameCheckConfig = struct {
	MaxNameLength   int
	MaxOutputTokens int
}{
	MaxNameLength:   60,
	MaxOutputTokens: 32,
}

var APIConfig = struct {
	WikipediaBaseURL   string
	WikipediaTimeout   time.Duration
	WatchPageBaseURL   string
	HTTPTimeout        time.Duration
	UserAgent          string
	MaxArticleChars    int
	ProgressBufferSize int
}{
	WikipediaBaseURL:   "https://en.wikipedia.org",
	WikipediaTimeout:   15 * time.Second,
	WatchPageBaseURL:   "https://www.youtube.com",
	HTTPTimeout:        20 * time.Second,
	UserAgent:          "guest-research/1.0 (+https://github.com/kapu/guest-research-go)",
	MaxArticleChars:    15000,
	ProgressBufferSize: 64,
}

var StringLimits = struct {
	LogPreview      int
	VideoTitle      int
	ProgressMessage int
}{
	LogPreview:      200,
	VideoTitle:      80,
	ProgressMessage: 240,
}

package domain

import "strings"

type Mode string

const (
	ModeFree Mode = "free"
	ModePro  Mode = "pro"
)

func (m Mode) String() string {
	return string(m)
}

func (m Mode) IsValid() bool {
	switch m {
	case ModeFree, ModePro:
		return true
	default:
		return false
	}
}

// ParseMode maps user input to a Mode. Anything unrecognised is Free.
func ParseMode(value string) Mode {
	if Mode(strings.ToLower(strings.TrimSpace(value))) == ModePro {
		return ModePro
	}
	return ModeFree
}

// APIKeys are the optional per-user provider keys.
type APIKeys struct {
	SearchKey string `json:"searchKey,omitempty"`
	LLMKey    string `json:"llmKey,omitempty"`
}

// ResearchRequest is the immutable input to one orchestration run.
type ResearchRequest struct {
	UserID      string  `json:"userId,omitempty"`
	SubjectName string  `json:"subjectName"`
	Context     string  `json:"context,omitempty"`
	Mode        Mode    `json:"mode"`
	Keys        APIKeys `json:"-"`
}

type DossierSource string

const (
	DossierLiveSearch     DossierSource = "live_search"
	DossierModelKnowledge DossierSource = "model_knowledge"
)

type CitedSource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type WebDossier struct {
	ProfileText  string        `json:"profileText"`
	SourceKind   DossierSource `json:"sourceKind"`
	CitedSources []CitedSource `json:"citedSources"`
}

// EncyclopediaEntry is the summary and article text for the subject.
type EncyclopediaEntry struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Article string `json:"article,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Text renders the entry for the combined narrative.
func (e *EncyclopediaEntry) Text() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(e.Summary); s != "" {
		parts = append(parts, s)
	}
	if a := strings.TrimSpace(e.Article); a != "" {
		parts = append(parts, a)
	}
	return strings.Join(parts, "\n\n")
}

// ResearchReport is the terminal artifact of a run.
type ResearchReport struct {
	RunID                string             `json:"runId"`
	SubjectName          string             `json:"subjectName"`
	CorrectedName        string             `json:"correctedName,omitempty"`
	Mode                 Mode               `json:"mode"`
	TotalVideosFound     int                `json:"totalVideosFound"`
	VideosAnalyzedCount  int                `json:"videosAnalyzedCount"`
	TranscriptsAccepted  int                `json:"transcriptsAccepted"`
	ModelWatchedAccepted int                `json:"modelWatchedAccepted"`
	Videos               []VideoRecord      `json:"videos"`
	CombinedNarrative    string             `json:"combinedNarrative"`
	VideoAnalysisText    string             `json:"videoAnalysisText"`
	UsedMetadataFallback bool               `json:"usedMetadataFallback"`
	Encyclopedia         *EncyclopediaEntry `json:"encyclopedia,omitempty"`
	WebDossier           *WebDossier        `json:"webDossier,omitempty"`
}

// EffectiveName is the corrected name when one was accepted.
func (r *ResearchReport) EffectiveName() string {
	if r.CorrectedName != "" {
		return r.CorrectedName
	}
	return r.SubjectName
}

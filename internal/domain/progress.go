package domain

type Stage string

const (
	StageStart              Stage = "start"
	StageNameCheck          Stage = "name_check"
	StageMediaSearch        Stage = "media_search"
	StageTranscriptFetch    Stage = "transcript_fetch"
	StageModelWatch         Stage = "model_watch"
	StageCorpusSynthesis    Stage = "corpus_synthesis"
	StageWebAndEncyclopedia Stage = "web_and_encyclopedia"
	StageCompile            Stage = "compile"
	StageComplete           Stage = "complete"
)

// StageOrder is the fixed order a run visits its stages in.
var StageOrder = []Stage{
	StageNameCheck,
	StageMediaSearch,
	StageTranscriptFetch,
	StageModelWatch,
	StageCorpusSynthesis,
	StageWebAndEncyclopedia,
	StageCompile,
	StageComplete,
}

func (s Stage) String() string {
	return string(s)
}

// IsSentinel reports whether the stage only affects the title display.
func (s Stage) IsSentinel() bool {
	return s == StageStart || s == StageComplete
}

type StageStatus string

const (
	StatusActive StageStatus = "active"
	StatusDone   StageStatus = "done"
	StatusError  StageStatus = "error"
)

type ProgressEvent struct {
	Stage   Stage       `json:"stage"`
	Status  StageStatus `json:"status"`
	Message string      `json:"message"`
}

// RunError is the terminal error frame.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one frame on the progress channel: a progress update, or exactly one
// of the terminal result and error.
type Event struct {
	Stage   Stage           `json:"stage,omitempty"`
	Status  StageStatus     `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  *ResearchReport `json:"result,omitempty"`
	Error   *RunError       `json:"error,omitempty"`
}

func (e Event) IsTerminal() bool {
	return e.Result != nil || e.Error != nil
}

// Progress returns the progress part of the frame.
func (e Event) Progress() ProgressEvent {
	return ProgressEvent{Stage: e.Stage, Status: e.Status, Message: e.Message}
}

func ProgressFrame(p ProgressEvent) Event {
	return Event{Stage: p.Stage, Status: p.Status, Message: p.Message}
}

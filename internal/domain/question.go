package domain

type InterviewerProfile struct {
	Name       string `json:"name"`
	ShowName   string `json:"showName,omitempty"`
	Audience   string `json:"audience,omitempty"`
	Style      string `json:"style,omitempty"`
	Background string `json:"background,omitempty"`
}

type QuestionRequest struct {
	Interviewer       InterviewerProfile `json:"interviewer"`
	GuestName         string             `json:"guestName"`
	GuestContext      string             `json:"guestContext,omitempty"`
	ResearchNarrative string             `json:"researchNarrative,omitempty"`
	Count             int                `json:"count,omitempty"`
	Keys              APIKeys            `json:"-"`
}

type Question struct {
	Question  string `json:"question"`
	Rationale string `json:"rationale,omitempty"`
	Category  string `json:"category,omitempty"`
	FollowUp  string `json:"followUp,omitempty"`
}

type QuestionSet struct {
	Themes    []string   `json:"themes,omitempty"`
	Questions []Question `json:"questions"`
}

// QuestionResult is returned for every generation attempt; failures are carried
// in Error rather than returned as Go errors.
type QuestionResult struct {
	Success  bool         `json:"success"`
	Model    string       `json:"model,omitempty"`
	Attempts int          `json:"attempts"`
	Set      *QuestionSet `json:"set,omitempty"`
	Error    string       `json:"error,omitempty"`
}

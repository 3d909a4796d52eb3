package domain

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is the persisted summary of one research run.
type RunRecord struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"userId"`
	SubjectName         string          `json:"subjectName"`
	Mode                Mode            `json:"mode"`
	Status              RunStatus       `json:"status"`
	TotalVideosFound    int             `json:"totalVideosFound"`
	VideosAnalyzedCount int             `json:"videosAnalyzedCount"`
	ErrorMessage        string          `json:"errorMessage,omitempty"`
	Report              *ResearchReport `json:"report,omitempty"`
	StartedAt           time.Time       `json:"startedAt"`
	FinishedAt          *time.Time      `json:"finishedAt,omitempty"`
}

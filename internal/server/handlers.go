package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kapu/guest-research-go/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultRunsPage = 20
	maxRunsPage     = 100
)

type questionsBody struct {
	Interviewer       domain.InterviewerProfile `json:"interviewer"`
	GuestName         string                    `json:"guestName"`
	GuestContext      string                    `json:"guestContext"`
	ResearchNarrative string                    `json:"researchNarrative"`
	Count             int                       `json:"count"`
}

// generateQuestions answers 200 with the structured result whether or not
// generation succeeded; only a malformed request is a 4xx.
func (s *Server) generateQuestions(c *gin.Context) {
	var body questionsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(body.GuestName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guestName is required"})
		return
	}
	if s.opts.Questions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "question generation is not configured"})
		return
	}

	uid := userID(c)
	result := s.opts.Questions.Generate(c.Request.Context(), domain.QuestionRequest{
		Interviewer:       body.Interviewer,
		GuestName:         strings.TrimSpace(body.GuestName),
		GuestContext:      body.GuestContext,
		ResearchNarrative: body.ResearchNarrative,
		Count:             body.Count,
		Keys:              s.userKeys(c.Request.Context(), uid),
	})
	if !result.Success {
		s.logger.Info("Question generation failed",
			zap.String("user_id", uid),
			zap.Int("attempts", result.Attempts),
			zap.String("error", result.Error),
		)
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getRun(c *gin.Context) {
	if s.opts.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history is disabled"})
		return
	}

	run, err := s.opts.Runs.GetRun(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		s.logger.Error("Failed to load run", zap.String("run_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) listRuns(c *gin.Context) {
	if s.opts.Runs == nil {
		c.JSON(http.StatusOK, []domain.RunRecord{})
		return
	}

	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		limit = defaultRunsPage
	}
	limit = min(limit, maxRunsPage)
	runs, err := s.opts.Runs.ListRuns(c.Request.Context(), userID(c), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

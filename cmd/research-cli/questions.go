package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	qGuest        string
	qGuestContext string
	qResearchFile string
	qInterviewer  string
	qShow         string
	qAudience     string
	qStyle        string
	qCount        int
	qJSON         bool
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Generate interview questions from a research narrative",
	RunE:  runQuestions,
}

func init() {
	f := questionsCmd.Flags()
	f.StringVar(&qGuest, "guest", "", "guest name")
	f.StringVar(&qGuestContext, "guest-context", "", "optional context about the guest")
	f.StringVar(&qResearchFile, "research-file", "", "file holding the research narrative")
	f.StringVar(&qInterviewer, "interviewer", "", "interviewer name")
	f.StringVar(&qShow, "show", "", "show name")
	f.StringVar(&qAudience, "audience", "", "audience description")
	f.StringVar(&qStyle, "style", "", "interview style")
	f.IntVar(&qCount, "count", 10, "number of questions (1-30)")
	f.BoolVar(&qJSON, "json", false, "print the raw result as JSON")
	_ = questionsCmd.MarkFlagRequired("guest")
}

func runQuestions(cmd *cobra.Command, _ []string) error {
	var narrative string
	if qResearchFile != "" {
		data, err := os.ReadFile(qResearchFile)
		if err != nil {
			return fmt.Errorf("failed to read research file: %w", err)
		}
		narrative = string(data)
	}

	c, logger := newClient()
	defer logger.Sync()

	result, err := c.GenerateQuestions(cmd.Context(), domain.QuestionRequest{
		Interviewer: domain.InterviewerProfile{
			Name:     qInterviewer,
			ShowName: qShow,
			Audience: qAudience,
			Style:    qStyle,
		},
		GuestName:         qGuest,
		GuestContext:      qGuestContext,
		ResearchNarrative: narrative,
		Count:             qCount,
	})
	if err != nil {
		return fmt.Errorf("%s", errors.UserMessage(err))
	}

	if qJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if !result.Success {
		return fmt.Errorf("question generation failed after %d attempts: %s", result.Attempts, result.Error)
	}
	writeQuestions(cmd.OutOrStdout(), result)
	return nil
}

func writeQuestions(w io.Writer, result *domain.QuestionResult) {
	if result.Set == nil {
		return
	}
	if len(result.Set.Themes) > 0 {
		fmt.Fprintf(w, "Themes: %s\n\n", strings.Join(result.Set.Themes, ", "))
	}
	for i, q := range result.Set.Questions {
		fmt.Fprintf(w, "%d. %s\n", i+1, q.Question)
		if q.Category != "" {
			fmt.Fprintf(w, "   [%s]\n", q.Category)
		}
		if q.FollowUp != "" {
			fmt.Fprintf(w, "   follow-up: %s\n", q.FollowUp)
		}
		if q.Rationale != "" {
			fmt.Fprintf(w, "   why: %s\n", q.Rationale)
		}
	}
	fmt.Fprintf(w, "\n(%s, %d attempt(s))\n", result.Model, result.Attempts)
}

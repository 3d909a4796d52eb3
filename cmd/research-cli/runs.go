package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/pkg/errors"
	"github.com/spf13/cobra"
)

var runsJSON bool

var runsCmd = &cobra.Command{
	Use:   "runs <id>",
	Short: "Show a stored research run",
	Long: `Fetch a finished or in-progress run from the server's run history.
Prints a summary and the narrative, or the raw record with --json.`,
	Args: cobra.ExactArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print the run record as JSON")
}

func runRuns(cmd *cobra.Command, args []string) error {
	c, logger := newClient()
	defer logger.Sync()

	run, err := c.GetRun(cmd.Context(), strings.TrimSpace(args[0]))
	if err != nil {
		return fmt.Errorf("%s", errors.UserMessage(err))
	}

	if runsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	writeRun(cmd.OutOrStdout(), run)
	return nil
}

func writeRun(w io.Writer, run *domain.RunRecord) {
	fmt.Fprintf(w, "Run %s: %s (%s, %s)\n", run.ID, run.SubjectName, run.Mode, run.Status)
	fmt.Fprintf(w, "Started %s", run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, ", finished %s", run.FinishedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d videos found, %d analyzed\n", run.TotalVideosFound, run.VideosAnalyzedCount)
	if run.ErrorMessage != "" {
		fmt.Fprintf(w, "Error: %s\n", run.ErrorMessage)
	}
	if run.Report != nil && run.Report.CombinedNarrative != "" {
		fmt.Fprintf(w, "\n%s\n", run.Report.CombinedNarrative)
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kapu/guest-research-go/internal/client"
	"github.com/kapu/guest-research-go/internal/domain"
	"github.com/kapu/guest-research-go/internal/research"
	"github.com/kapu/guest-research-go/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	researchContext string
	researchMode    string
	researchWS      bool
	researchOut     string
)

var researchCmd = &cobra.Command{
	Use:   "research <subject>",
	Short: "Run guest research and stream its progress",
	Long: `Run the research pipeline for a guest. Progress is shown on stderr
as each stage updates; the combined narrative is printed to stdout or
written to --out.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	researchCmd.Flags().StringVar(&researchContext, "context", "", "optional context about the guest")
	researchCmd.Flags().StringVar(&researchMode, "mode", "free", "research mode: free or pro")
	researchCmd.Flags().BoolVar(&researchWS, "ws", false, "stream over websocket instead of server-sent events")
	researchCmd.Flags().StringVarP(&researchOut, "out", "o", "", "write the narrative to this file")
}

func runResearch(cmd *cobra.Command, args []string) error {
	subject := strings.TrimSpace(strings.Join(args, " "))
	if subject == "" {
		return fmt.Errorf("subject must not be empty")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, logger := newClient()
	defer logger.Sync()
	preflight(cmd, c)

	params := client.ResearchParams{
		SubjectName: subject,
		Context:     researchContext,
		Mode:        domain.ParseMode(researchMode).String(),
	}

	board := research.NewBoard(subject)
	r := &boardRenderer{board: board, w: cmd.ErrOrStderr()}

	stream := c.StreamResearch
	if researchWS {
		stream = c.StreamResearchWS
	}
	report, err := stream(ctx, params, r.apply)
	if err != nil {
		return fmt.Errorf("%s", errors.UserMessage(err))
	}

	r.summary(report)

	if researchOut != "" {
		if err := os.WriteFile(researchOut, []byte(report.CombinedNarrative), 0o644); err != nil {
			return fmt.Errorf("failed to write narrative: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Narrative written to %s\n", researchOut)
		return nil
	}
	_, err = io.WriteString(cmd.OutOrStdout(), report.CombinedNarrative+"\n")
	return err
}

// boardRenderer prints a line whenever the board's title or a row changes.
type boardRenderer struct {
	board *research.Board
	w     io.Writer
	title string
}

func (r *boardRenderer) apply(ev domain.ProgressEvent) {
	r.board.Apply(ev)
	if title := r.board.Title(); title != r.title {
		r.title = title
		fmt.Fprintf(r.w, "== %s ==\n", title)
	}
	if ev.Stage.IsSentinel() {
		return
	}
	fmt.Fprintf(r.w, "%s %-22s %s\n", statusMark(ev.Status), ev.Stage, ev.Message)
}

func (r *boardRenderer) summary(report *domain.ResearchReport) {
	fmt.Fprintln(r.w)
	for _, row := range r.board.Rows() {
		fmt.Fprintf(r.w, "%s %-22s %s\n", statusMark(row.Status), row.Stage, row.Message)
	}
	fmt.Fprintf(r.w, "\n%s: %d videos found, %d analyzed", report.EffectiveName(), report.TotalVideosFound, report.VideosAnalyzedCount)
	if report.UsedMetadataFallback {
		fmt.Fprint(r.w, " (metadata only)")
	}
	fmt.Fprintln(r.w)
}

func statusMark(status domain.StageStatus) string {
	switch status {
	case domain.StatusDone:
		return "[ok]"
	case domain.StatusError:
		return "[!!]"
	default:
		return "[..]"
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kapu/guest-research-go/internal/client"
	"github.com/kapu/guest-research-go/internal/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const preflightTimeout = 5 * time.Second

var (
	serverURL string
	token     string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "research-cli",
	Short: "Research podcast guests and draft interview questions",
	Long: `research-cli talks to a running research server.

Available subcommands:
  research  - Run guest research and stream its progress
  questions - Generate interview questions from a research narrative
  runs      - Show a stored research run`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RESEARCH_SERVER_URL", "http://localhost:8080"), "research server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("RESEARCH_TOKEN"), "bearer token (defaults to $RESEARCH_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	rootCmd.AddCommand(researchCmd, questionsCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newClient() (*client.Client, *zap.Logger) {
	logger := util.NewWriterLogger(logLevel, os.Stderr)
	return client.NewClient(serverURL, token, logger), logger
}

// preflight warns when the server health check fails. A degraded server can
// still serve runs, so it is not fatal.
func preflight(cmd *cobra.Command, c *client.Client) {
	ctx, cancel := context.WithTimeout(cmd.Context(), preflightTimeout)
	defer cancel()
	if !c.Ping(ctx) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: research server at %s is unreachable or degraded\n", serverURL)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

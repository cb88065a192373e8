package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/digitaldrywood/taskpulse/internal/analytics"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

var (
	reportUser string
	reportJSON bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print team analytics to the terminal",
	Long: `Fetch the configured lists with the service credential and print the
team breakdown and the assignment priority order.

Examples:
  taskpulse report                 # team report
  taskpulse report --user "Jane"   # one user's counts
  taskpulse report --json          # machine readable team analytics`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportUser, "user", "", "show a single user's counts")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print JSON instead of the formatted report")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identity, err := a.serviceAuth(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := identity.Persist(ctx); err != nil {
			logger.Warn("failed to persist service credential", "error", err)
		}
	}()

	records, err := a.pipeline.Fetch(ctx, identity.Authorizer())
	if err != nil {
		return fmt.Errorf("failed to fetch records: %w", err)
	}

	var out any
	switch {
	case reportUser != "":
		out = map[string]any{"user": reportUser, "counts": a.engine.SingleUser(records, reportUser)}
	case reportJSON:
		out = a.engine.Team(records)
	default:
		fmt.Println(analytics.FormatReport(a.engine.Team(records), a.engine.Rank(records), a.engine.Now()))
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digitaldrywood/taskpulse/internal/job"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute the analytics workbook once with the service credential",
	RunE:  runRecompute,
}

func runRecompute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	identity, err := a.exportAuth(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := identity.Persist(ctx); err != nil {
			logger.Warn("failed to persist service credential", "error", err)
		}
	}()

	res, err := a.pipeline.Run(ctx, identity.Authorizer(), job.TriggerCLI)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %d records, %d users written to %s\n", res.RunID, res.Records, len(res.Ranked), cfg.ExportPath)
	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/push-garden/internal/app"
	"github.com/bissquit/push-garden/internal/config"
	"github.com/bissquit/push-garden/internal/delivery"
	"github.com/spf13/cobra"
)

var runScope string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one expansion and processing cycle, then exit",
	RunE:  runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runScope, "scope", "all", "Cycle scope: all, broadcasts or process")
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	// One-shot invocation; the in-process cron runner stays off.
	cfg.Cron.Schedule = ""

	scope, err := app.ParseScope(runScope)
	if err != nil {
		return err
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	result, err := application.Cycle().Run(cmd.Context(), scope, delivery.TriggerManual)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := application.Shutdown(shutdownCtx); err == nil {
		err = shutdownErr
	}
	if err != nil {
		return err
	}

	fmt.Printf("expanded %d broadcasts (%d items), processed %d items (%d sent, %d failed, %d skipped), purged %d\n",
		result.Expansion.ProcessedBroadcasts,
		result.Expansion.ItemsCreated,
		result.Processing.Processed,
		result.Processing.Sent,
		result.Processing.Failed,
		result.Processing.Skipped,
		result.Purged,
	)

	return nil
}

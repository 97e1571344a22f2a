package main

import (
	"fmt"
	"os"

	"github.com/bissquit/push-garden/internal/version"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "push-garden",
	Short: "push-garden - scheduled push notification delivery engine",
	Long:  `push-garden schedules, fans out and delivers push notifications: local-time scheduling, recurring rules, broadcast audience expansion and a policy-gated delivery queue.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("push-garden %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

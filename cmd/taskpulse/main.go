package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/digitaldrywood/taskpulse/internal/config"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

var (
	cfgFile string
	envFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "taskpulse",
	Short: "Task completion analytics over SharePoint lists",
	Long: `taskpulse signs in against Microsoft identity, reads task items from
SharePoint lists through Microsoft Graph and computes completion analytics
per user and team.

It serves a small JSON dashboard API and keeps a per-user analytics workbook
on OneDrive up to date on a fixed interval.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (any format viper reads)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recomputeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(usersCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger.Init(level, cfg.LogFormat)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

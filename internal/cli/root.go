// Package cli defines the Cobra commands for the techscreen binary.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

var rootCmd = &cobra.Command{
	Use:           "techscreen",
	Short:         "Interview session engine",
	Long:          "techscreen runs recruiter-created technical interview sessions: stage flow, AI chat, realtime relay and final evaluation.",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if err := godotenv.Load(); err != nil {
			slog.Debug("No .env file found, using environment variables")
		}
	},
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

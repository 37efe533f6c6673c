// Package main provides the CLI entry point for the PAM bridge.
//
// PAM sits between a browser chat UI, an external reasoning engine and an
// optional speech provider. It executes the engine's tool calls against the
// user's travel and finance records.
//
// # Basic Usage
//
// Start the gateway:
//
//	pam serve --config pam.yaml
//
// Inspect and run tools locally:
//
//	pam tools list
//	pam tools exec getUserExpenses --user u1 --params '{limit: 5}'
//
// # Environment Variables
//
//   - PAM_CONFIG: Path to configuration file (default: pam.yaml)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "pam.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pam",
		Short: "PAM - assistant tool-calling bridge",
		Long: `PAM bridges a browser chat UI to a reasoning engine and executes the
engine's tool calls (expenses, budgets, income, fuel, trips, profile, search)
against the user's own records.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
		buildUsageCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

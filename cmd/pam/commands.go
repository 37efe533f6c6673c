package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the PAM gateway",
		Long: `Start the PAM gateway.

The server will:
1. Load configuration from the specified file (or built-in defaults)
2. Open the record store (memory, postgres or sqlite)
3. Serve browser sessions on /ws, each with its own reasoning connection
4. Serve /healthz, /metrics, /v1/tools and /v1/usage

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with defaults
  pam serve

  # Start with a config file and debug logging
  pam serve --config /etc/pam/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", configPathFromEnv(), "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and run tools",
	}
	cmd.AddCommand(buildToolsListCmd(), buildToolsExecCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools offered to the reasoning engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print declarations with their JSON schemas")
	return cmd
}

func buildToolsExecCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		params     string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "exec <tool>",
		Short: "Execute one tool against the configured store",
		Example: `  pam tools exec getUserExpenses --user u1 --params '{limit: 5, category: "Fuel"}'
  pam tools exec getTripHistory --user u1 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsExec(cmd, configPath, args[0], userID, params, asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", configPathFromEnv(), "Path to YAML or JSON5 configuration file")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User to execute as (required)")
	cmd.Flags().StringVarP(&params, "params", "p", "", "Tool parameters as a JSON5 object")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full execution result as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", configPathFromEnv(), "Path to YAML or JSON5 configuration file")

	cmd.AddCommand(schemaCmd, validateCmd)
	return cmd
}

// buildUsageCmd creates the "usage" command that reads a running gateway's
// usage aggregates.
func buildUsageCmd() *cobra.Command {
	var (
		addr   string
		userID string
		tool   string
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show tool usage from a running gateway",
		Example: `  pam usage
  pam usage --addr http://pam.internal:8080 --user u1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsage(cmd, addr, userID, tool)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "Gateway base URL")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Only show this user's stats")
	cmd.Flags().StringVarP(&tool, "tool", "t", "", "Only show this tool's stats")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd)
		},
	}
}

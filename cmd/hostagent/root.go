package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/config"
)

var (
	configPath string
	debugFile  string
)

var rootCmd = &cobra.Command{
	Use:   "hostagent",
	Short: "Host agent that delegates work to remote agents",
	Long: `hostagent turns user requests into delegations to remote worker agents,
tracks the resulting tasks to completion, and answers with their combined
results.

Conversations are kept per context id. Turns in one conversation run one at a
time; separate conversations run in parallel.

Configuration is read from ~/.config/hostagent/config.yaml, overridden by a
.hostagent.yaml in the current directory or a parent, and by HOSTAGENT_*
environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user and project config)")
	rootCmd.PersistentFlags().StringVar(&debugFile, "debug-log", "", "Write orchestration debug log to this file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the --config file when given, otherwise the layered
// user and project configuration.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if debugFile != "" {
		cfg.Logging.DebugFile = debugFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/state"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete idle sessions",
	Long: `Delete stored sessions that have been idle for longer than --older-than,
together with their turn logs. A later request with the same context id
starts a fresh conversation.

Examples:
  hostagent cleanup                    # Use sessions.idle_ttl
  hostagent cleanup --older-than 168h  # Sessions idle for a week`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Idle age to purge (default: sessions.idle_ttl)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Sessions.Store != "sqlite" {
		fmt.Println("Sessions are kept in memory; nothing to clean up.")
		return nil
	}

	olderThan := cleanupOlderThan
	if olderThan <= 0 {
		olderThan = cfg.Sessions.IdleTTL
	}
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	store, err := openStore(cfg.Sessions)
	if err != nil {
		return err
	}
	defer store.Close()

	db, ok := store.(*state.DB)
	if !ok {
		return fmt.Errorf("session store does not support purging")
	}
	n, err := db.PurgeIdleSessions(olderThan)
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Deleted %d sessions idle for more than %s", n, olderThan), color.FgGreen)
	return nil
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/session"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show stored sessions",
	Long: `Display stored conversations.

Without arguments, lists every session with its turn count and idle time.
With a session id, shows that session's turn log and delegated tasks.

Only the sqlite store persists sessions between runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Sessions.Store == "memory" {
		fmt.Println("Sessions are kept in memory; nothing is stored between runs.")
		return nil
	}

	store, err := openStore(cfg.Sessions)
	if err != nil {
		return err
	}
	registry := session.NewRegistry(store)
	defer registry.Close()

	if len(args) == 1 {
		sess, err := registry.Get(args[0])
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("no session %s", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Println(tui.RenderSession(sess))
		return nil
	}

	sessions, err := registry.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	fmt.Println(tui.RenderSessions(sessions))
	return nil
}

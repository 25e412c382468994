package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/tui"
)

var workersNoProbe bool

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List configured workers and check they respond",
	Long: `List the configured workers. Each worker's agent card is fetched to
check that it is reachable, unless --no-probe is given.`,
	RunE: runWorkers,
}

func init() {
	workersCmd.Flags().BoolVar(&workersNoProbe, "no-probe", false, "Only list workers, do not contact them")
}

func runWorkers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool := remote.NewPool(cfg.Endpoints(), remote.WithHTTPTransport(probeTimeout, remote.RetryPolicy{MaxAttempts: 1}))

	if !workersNoProbe {
		for _, res := range pool.ProbeAll(context.Background(), probeTimeout) {
			if res.Err != nil {
				printStatus("✗", fmt.Sprintf("%s: %v", res.Worker, res.Err), color.FgRed)
				continue
			}
			msg := res.Worker
			if res.Card.Description != "" {
				msg += ": " + res.Card.Description
			}
			printStatus("✓", msg, color.FgGreen)
		}
		fmt.Println()
	}

	fmt.Println(tui.RenderWorkers(pool.Endpoints()))
	return nil
}

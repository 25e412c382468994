package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/remote"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/workerkit"
)

var (
	workerName      string
	workerAddr      string
	workerMode      string
	workerDelay     time.Duration
	workerImmediate time.Duration
	workerDesc      string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a development worker agent",
	Long: `Run a small worker that speaks the task protocol, for trying the host
without the real agents.

Modes:
  echo    return the payload
  upper   return the payload in upper case
  sleep   wait --delay, then return the payload
  fail    always fail

Examples:
  hostagent worker --name notion_agent --addr :8002 --mode echo
  hostagent worker --name elevenlabs_agent --addr :8003 --mode sleep --delay 3s`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerName, "name", "echo_agent", "Worker name advertised in the agent card")
	workerCmd.Flags().StringVar(&workerAddr, "addr", ":8002", "Listen address")
	workerCmd.Flags().StringVar(&workerMode, "mode", "echo", "Behaviour: "+strings.Join(workerkit.Modes, ", "))
	workerCmd.Flags().DurationVar(&workerDelay, "delay", 2*time.Second, "Work time for sleep mode")
	workerCmd.Flags().DurationVar(&workerImmediate, "immediate", 0, "Answer task creation with the result if ready within this time")
	workerCmd.Flags().StringVar(&workerDesc, "description", "", "Agent card description")
}

func runWorker(cmd *cobra.Command, args []string) error {
	handler, err := workerkit.HandlerFor(workerMode, workerDelay)
	if err != nil {
		return err
	}

	desc := workerDesc
	if desc == "" {
		desc = fmt.Sprintf("Development worker (%s mode)", workerMode)
	}
	card := remote.AgentCard{
		Name:         workerName,
		Description:  desc,
		Version:      Version(),
		Capabilities: remote.Capabilities{PushNotifications: true},
		Skills:       []remote.Skill{{ID: workerMode, Name: workerMode, Description: desc}},
	}

	var opts []workerkit.Option
	if workerImmediate > 0 {
		opts = append(opts, workerkit.WithImmediate(workerImmediate))
	}
	w := workerkit.New(card, handler, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("worker %s (%s) listening on %s\n", workerName, workerMode, workerAddr)
	return w.Serve(ctx, workerAddr)
}

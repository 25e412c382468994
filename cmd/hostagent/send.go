package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/orchestrator"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/tui"
)

var (
	sendContext string
	sendPlain   bool
)

var sendCmd = &cobra.Command{
	Use:   "send <request>",
	Short: "Handle one request and print the answer",
	Long: `Plan and run a single request in-process, showing each delegation as it
progresses. Pass --context to continue an earlier conversation.

Examples:
  hostagent send "search notion for the Q3 roadmap"
  hostagent send --context demo "read that out loud"
  hostagent send --plain "hello" | tee answer.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendContext, "context", "c", "", "Conversation context id")
	sendCmd.Flags().BoolVar(&sendPlain, "plain", false, "Print only the answer, without progress display")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	h, err := newHost(cfg, hostOptions{events: !sendPlain})
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	input := strings.Join(args, " ")
	if sendPlain {
		res, err := h.orch.HandleTurn(ctx, sendContext, input)
		if err != nil {
			return err
		}
		fmt.Println(res.Output)
		return nil
	}
	return runTurnTUI(ctx, h.orch, sendContext, input)
}

// runTurnTUI runs one turn with a live progress view.
func runTurnTUI(ctx context.Context, orch *orchestrator.Orchestrator, contextID, input string) error {
	// Log output corrupts the display while the program runs.
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	app := tui.NewTurnApp(input)
	program := tea.NewProgram(app)

	resolved := make(chan string, 1)
	go forwardEventsToTUI(program, orch.Events())
	go func() {
		res, err := orch.HandleTurn(ctx, contextID, input)
		if err != nil {
			program.Send(tui.TurnDoneMsg{Err: err})
			return
		}
		resolved <- res.ContextID
		program.Send(tui.TurnDoneMsg{Output: res.Output, Degraded: res.Degraded})
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run progress view: %w", err)
	}
	if !app.Done() {
		return nil
	}
	if _, _, err := app.Result(); err != nil {
		return err
	}
	if contextID == "" {
		select {
		case id := <-resolved:
			fmt.Printf("\ncontinue with: hostagent send --context %s \"...\"\n", id)
		default:
		}
	}
	return nil
}

// forwardEventsToTUI converts orchestrator events to TUI messages.
func forwardEventsToTUI(program *tea.Program, events <-chan orchestrator.OrchestratorEvent) {
	for event := range events {
		errStr := ""
		if event.Error != nil {
			errStr = event.Error.Error()
		}
		program.Send(tui.EventMsg{
			Type:         string(event.Type),
			DelegationID: event.DelegationID,
			Worker:       event.Worker,
			TaskID:       event.TaskID,
			Message:      event.Message,
			Error:        errStr,
			Timestamp:    event.Timestamp,
			Duration:     event.Duration,
		})
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/orchestrator"
	"github.com/parthagni22/adk-mcp-agent-lab/internal/tui"
)

var chatContext string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Read requests from stdin and answer each one, keeping a single
conversation so later requests can refer to earlier results.

Commands inside the chat:
  /workers   show configured workers
  /history   show this conversation's turns
  /cancel    cancel in-flight delegations
  /quit      leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatContext, "context", "c", "", "Resume a conversation by context id")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	h, err := newHost(cfg, hostOptions{})
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	prompt := color.New(color.FgCyan, color.Bold)
	agent := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	muted := color.New(color.FgHiBlack)

	contextID := chatContext
	sessionID := ""
	muted.Println("Type a request, or /quit to leave.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		prompt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/workers":
			fmt.Println(tui.RenderWorkers(h.orch.Workers()))
			continue
		case "/history":
			if sessionID == "" {
				muted.Println("No turns yet.")
				continue
			}
			sess, err := h.orch.Session(sessionID)
			if err != nil {
				warn.Printf("Could not load history: %v\n", err)
				continue
			}
			fmt.Println(tui.RenderSession(sess))
			continue
		case "/cancel":
			n := 0
			if sessionID != "" {
				n = h.orch.CancelSession(sessionID)
			}
			muted.Printf("Cancelled %d delegations.\n", n)
			continue
		}

		res, err := h.orch.HandleTurn(ctx, contextID, line)
		if err != nil {
			warn.Println(chatErrorMessage(err))
			continue
		}
		contextID = res.ContextID
		sessionID = res.SessionID

		if res.Degraded {
			warn.Printf("agent> %s\n", res.Output)
		} else {
			agent.Printf("agent> %s\n", res.Output)
		}
		muted.Printf("       (%s, %d delegations)\n", res.Elapsed.Round(time.Millisecond), len(res.Tasks))
	}
}

// chatErrorMessage turns a turn failure into a line for the user.
func chatErrorMessage(err error) string {
	var oerr *orchestrator.Error
	if !errors.As(err, &oerr) {
		return "Something went wrong: " + err.Error()
	}
	switch oerr.Kind {
	case orchestrator.KindPlannerUnavailable:
		return "I can't work out how to help right now. Is the planner configured?"
	case orchestrator.KindInvalidPlan:
		return "I couldn't put together a workable plan for that. Try rephrasing."
	case orchestrator.KindSessionStore:
		return "I couldn't save this conversation. Check the session store and try again."
	default:
		return oerr.Error()
	}
}

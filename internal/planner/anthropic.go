package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/api"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// Completer runs a single system+user prompt against a model.
type Completer interface {
	RunWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// systemPrompt is the routing instruction for the model-backed planner.
const systemPrompt = `You are a host agent that routes user requests to remote agents.
Decide whether to answer directly or to delegate sub-tasks.

Return ONLY a JSON object with this exact structure (no other text):
{
  "reply": "direct answer, only when no delegation is needed",
  "delegations": [
    {"id": "short-id", "worker": "agent name", "payload": "instruction for the agent", "depends_on": ["id"]}
  ]
}

Guidelines:
- Only use agent names from the list you are given
- Independent sub-tasks must not depend on each other so they run in parallel
- When a sub-task needs another's output, add depends_on and put {{result:<id>}} in its payload
- Use the conversation so far to resolve references like "that" or "it"`

// AnthropicPlanner asks a Claude model for the plan.
type AnthropicPlanner struct {
	llm Completer
}

// NewAnthropicPlanner creates a planner backed by llm.
func NewAnthropicPlanner(llm Completer) *AnthropicPlanner {
	return &AnthropicPlanner{llm: llm}
}

// Plan implements Planner.
func (p *AnthropicPlanner) Plan(ctx context.Context, input string, history []models.Turn, workers []models.WorkerEndpoint) (*models.Plan, error) {
	response, err := p.llm.RunWithSystem(ctx, systemPrompt, buildPrompt(input, history, workers))
	if err != nil {
		return nil, fmt.Errorf("plan turn: %w", err)
	}

	var plan models.Plan
	if err := api.ExtractJSON(response, &plan); err != nil {
		return nil, fmt.Errorf("plan turn: %w", err)
	}
	return normalize(&plan)
}

func buildPrompt(input string, history []models.Turn, workers []models.WorkerEndpoint) string {
	var b strings.Builder

	b.WriteString("Available agents:\n")
	if len(workers) == 0 {
		b.WriteString("(none)\n")
	}
	for _, w := range workers {
		desc := w.Description
		if desc == "" {
			desc = w.CapabilityOrName()
		}
		fmt.Fprintf(&b, "- %s: %s\n", w.Name, desc)
	}

	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Input, t.Output)
		}
	}

	fmt.Fprintf(&b, "\nUser request:\n%s\n", input)
	return b.String()
}

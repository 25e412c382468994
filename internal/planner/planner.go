// Package planner decides, for one turn, whether to answer directly or which
// workers should receive sub-tasks.
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// Planner produces a delegation plan from the user's input and the session's
// prior turns. Implementations must not mutate history.
type Planner interface {
	Plan(ctx context.Context, input string, history []models.Turn, workers []models.WorkerEndpoint) (*models.Plan, error)
}

// Func adapts an ordinary function to the Planner interface.
type Func func(ctx context.Context, input string, history []models.Turn, workers []models.WorkerEndpoint) (*models.Plan, error)

// Plan calls f.
func (f Func) Plan(ctx context.Context, input string, history []models.Turn, workers []models.WorkerEndpoint) (*models.Plan, error) {
	return f(ctx, input, history, workers)
}

// Static returns a planner that always yields the same plan.
func Static(plan models.Plan) Planner {
	return Func(func(context.Context, string, []models.Turn, []models.WorkerEndpoint) (*models.Plan, error) {
		p := plan
		p.Delegations = append([]models.Delegation(nil), plan.Delegations...)
		return &p, nil
	})
}

// normalize assigns IDs to delegations that lack one and rejects empty plans.
func normalize(p *models.Plan) (*models.Plan, error) {
	if p == nil {
		return nil, fmt.Errorf("planner returned no plan")
	}
	for i := range p.Delegations {
		if p.Delegations[i].ID == "" {
			p.Delegations[i].ID = fmt.Sprintf("d%d", i+1)
		}
		p.Delegations[i].Worker = strings.TrimSpace(p.Delegations[i].Worker)
	}
	if !p.RequiresDelegation() && strings.TrimSpace(p.Reply) == "" {
		return nil, fmt.Errorf("planner returned neither a reply nor delegations")
	}
	return p, nil
}

// capabilitySummary renders "I can a, b and c." from the roster.
func capabilitySummary(workers []models.WorkerEndpoint) string {
	if len(workers) == 0 {
		return "I don't have any agents available to help with that right now."
	}
	caps := make([]string, 0, len(workers))
	for _, w := range workers {
		caps = append(caps, w.CapabilityOrName())
	}
	return "I can " + joinAnd(caps) + ". What would you like me to do?"
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

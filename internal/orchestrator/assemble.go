package orchestrator

import (
	"fmt"
	"strings"

	"github.com/parthagni22/adk-mcp-agent-lab/internal/dispatch"
	"github.com/parthagni22/adk-mcp-agent-lab/pkg/models"
)

// assemble builds the user-visible response from the batch outcomes. Failed
// capabilities get a gap notice; a batch with no successes gets an apology.
// The second return value reports whether anything failed.
func (o *Orchestrator) assemble(reply string, outcomes []TaskOutcome) (string, bool) {
	var results, delivered, missing []string
	for _, out := range outcomes {
		capability := o.capability(out.Worker)
		if out.State == models.TaskCompleted {
			if text := strings.TrimSpace(out.Output); text != "" {
				results = append(results, text)
			}
			delivered = appendUnique(delivered, capability)
			continue
		}
		missing = appendUnique(missing, fmt.Sprintf("%s (%s)", capability, o.gapReason(out)))
	}

	if len(delivered) == 0 {
		return "I'm sorry, I could not " + joinWith(missing, "or") + ". Please try again later.", true
	}

	var b strings.Builder
	if reply = strings.TrimSpace(reply); reply != "" {
		b.WriteString(reply)
	}
	for _, r := range results {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r)
	}

	if len(missing) == 0 {
		if b.Len() == 0 {
			return "I was able to " + joinWith(delivered, "and") + ".", false
		}
		return b.String(), false
	}

	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "I was able to %s but could not %s.", joinWith(delivered, "and"), joinWith(missing, "or"))
	return b.String(), true
}

// capability returns the phrase used for a worker in notices.
func (o *Orchestrator) capability(worker string) string {
	if ep, ok := o.pool.Endpoint(worker); ok {
		return ep.CapabilityOrName()
	}
	return models.WorkerEndpoint{Name: worker}.CapabilityOrName()
}

// gapReason explains a failed outcome without protocol detail.
func (o *Orchestrator) gapReason(out TaskOutcome) string {
	switch {
	case out.Skipped:
		return "it needed a step that did not complete"
	case out.DispatchError == dispatch.KindNotConfigured:
		names := o.pool.Names()
		if len(names) == 0 {
			return fmt.Sprintf("no agent named %s is configured", out.Worker)
		}
		return fmt.Sprintf("no agent named %s is configured; available agents: %s", out.Worker, strings.Join(names, ", "))
	case out.Unreachable:
		return "the agent is unreachable"
	case out.DispatchError == dispatch.KindRejected:
		return "the agent rejected the request"
	case out.State == models.TaskTimedOut:
		return "it took too long to respond"
	case out.State == models.TaskCancelled:
		return "the request was cancelled"
	default:
		return "the agent reported an error"
	}
}

func appendUnique(items []string, s string) []string {
	if contains(items, s) {
		return items
	}
	return append(items, s)
}

// joinWith renders "a", "a and b", or "a, b and c".
func joinWith(items []string, conj string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " " + conj + " " + items[len(items)-1]
	}
}

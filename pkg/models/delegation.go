package models

import "strings"

// braceJoiner follows every "{" in literal text, so caller-supplied text can
// never form a "{{" placeholder.
const braceJoiner = "{\u2060"

// QuoteLiteral escapes placeholder syntax in text inserted into a payload.
func QuoteLiteral(s string) string {
	return strings.ReplaceAll(s, "{", braceJoiner)
}

// UnquoteLiteral restores text escaped by QuoteLiteral.
func UnquoteLiteral(s string) string {
	return strings.ReplaceAll(s, braceJoiner, "{")
}

// Delegation is one sub-task the planner wants sent to a worker.
type Delegation struct {
	// ID names the delegation within its plan so others can depend on it.
	ID string `json:"id" yaml:"id"`
	// Worker is the logical worker name.
	Worker string `json:"worker" yaml:"worker"`
	// Payload is the opaque task input. It may reference prerequisite outputs
	// with {{result:<id>}} placeholders. Literal text from the user must be
	// inserted with QuoteLiteral.
	Payload string `json:"payload" yaml:"payload"`
	// DependsOn lists delegation IDs that must complete before this one is dispatched.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Plan is the planner's decision for a single turn.
type Plan struct {
	// Reply is returned directly when the turn needs no delegation.
	Reply string `json:"reply,omitempty"`
	// Delegations are the sub-tasks to dispatch.
	Delegations []Delegation `json:"delegations,omitempty"`
}

// RequiresDelegation returns true if the plan dispatches at least one sub-task.
func (p *Plan) RequiresDelegation() bool {
	return p != nil && len(p.Delegations) > 0
}

// Package orchestrator runs user turns end to end.
//
// A turn resolves the caller's session and holds its turn lock, asks the
// planner for delegations, and dispatches every delegation whose
// prerequisites have completed. It then waits for all of them under the turn
// deadline and assembles one response from the completed results plus a
// notice for each capability that could not be delivered.
//
// Example usage:
//
//	orch := orchestrator.New(orchestrator.RequiredConfig{
//		Registry: registry,
//		Pool:     pool,
//		Planner:  planner.NewRulePlanner(planner.DefaultRules()),
//	}, orchestrator.WithTurnDeadline(90*time.Second))
//	defer orch.Close()
//
//	result, err := orch.HandleTurn(ctx, contextID, "find my roadmap and read it aloud")
package orchestrator

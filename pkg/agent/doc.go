// Package agent runs the bounded tool-calling loop behind one backlog objective.
//
// Invariants:
// - A run owns its transcript and artifacts; nothing is shared across runs.
// - Every tool call id in an assistant turn gets exactly one tool response.
// - Identical calls within one turn execute once; destructive calls need confirm=true.
// - Mutations are re-read through the Verifier before they count as artifacts.
// - A run stops on a plain answer, the failure threshold, the iteration cap, or cancellation.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{Dispatcher: d, Tools: exec, Verifier: store, Events: runs})
//	result, err := runner.Run(ctx, agent.RunParams{Objective: "Add an epic for checkout"})
//	fmt.Println(result.Summary)
package agent

// Package scripting evaluates edge conditions and runs custom node scripts.
package scripting

import "context"

// Evaluator decides whether an edge condition holds for the current turn
type Evaluator interface {
	// Evaluate never fails; faults are reported as false
	Evaluate(condition string, context map[string]any, userInput string) bool
}

// ScriptEngine executes custom node code
type ScriptEngine interface {
	// Execute runs script with $ bound to a copy of vars and returns the keys the script changed.
	// The call must return promptly once ctx is done.
	Execute(ctx context.Context, script string, vars map[string]any, userInput string) (map[string]any, error)
}

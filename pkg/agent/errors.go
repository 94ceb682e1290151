package agent

import (
	"errors"
	"fmt"
)

// Error codes the loop itself puts into tool results
const (
	CodeConfirmRequired    = "explicit_confirm_required"
	CodeVerificationFailed = "verification_failed"
)

// ErrWriteBarrier is reported to the model when a destructive call lacks confirm=true.
// It never ends a run.
var ErrWriteBarrier = errors.New("destructive tool call refused: set confirm=true only when the user explicitly asked for it")

// ToolExecutionError is one failed tool call
type ToolExecutionError struct {
	Tool    string
	CallID  string
	Code    string
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s (%s) failed: %s: %s", e.Tool, e.CallID, e.Code, e.Message)
}

// FailureThresholdError ends a run after too many consecutive tool failures
type FailureThresholdError struct {
	Threshold int
	Last      *ToolExecutionError
}

func (e *FailureThresholdError) Error() string {
	return fmt.Sprintf("aborting after %d consecutive tool failures: %v", e.Threshold, e.Last)
}

func (e *FailureThresholdError) Unwrap() error {
	return e.Last
}

// BudgetExceededError ends a run that used every iteration without a final answer
type BudgetExceededError struct {
	MaxIterations int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("iteration budget exceeded: no final answer after %d iterations", e.MaxIterations)
}

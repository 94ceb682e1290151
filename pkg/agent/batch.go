package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/backlogpilot/internal/observability"
	"github.com/harun/backlogpilot/pkg/toolexecutor"
	"github.com/harun/backlogpilot/pkg/transcript"
)

// callOutcome is the shared result of one distinct (name, args) pair
type callOutcome struct {
	result toolexecutor.ToolResult
	failed bool
}

// mutationIDs is the shape tool results share for affected item ids
type mutationIDs struct {
	ID         string   `json:"id"`
	DeletedIDs []string `json:"deleted_ids"`
}

// executeBatch runs the tool calls of one assistant turn and appends one
// tool-response turn per call id, in request order.
func (r *Runner) executeBatch(ctx context.Context, st *run, calls []transcript.ToolCallRequest, iteration int) {
	outcomes := make(map[string]*callOutcome, len(calls))

	for _, call := range calls {
		key := dedupKey(call)
		outcome, seen := outcomes[key]
		if !seen {
			outcome = r.executeCall(ctx, st, call, iteration)
			outcomes[key] = outcome
		} else {
			st.logger.Debug().Str("tool", call.Name).Str("call_id", call.ID).Msg("Reusing result of identical tool call")
		}

		r.record(ctx, EventToolResult, map[string]interface{}{
			"iteration":    iteration,
			"call_id":      call.ID,
			"tool":         call.Name,
			"success":      outcome.result.Success,
			"error_code":   outcome.result.ErrorCode,
			"deduplicated": seen,
		})
		st.turns = append(st.turns, transcript.ToolResponse(call.ID, outcome.result.Content()))
	}
}

// executeCall runs one distinct call and updates the failure streak
func (r *Runner) executeCall(ctx context.Context, st *run, call transcript.ToolCallRequest, iteration int) *callOutcome {
	r.record(ctx, EventToolCall, map[string]interface{}{
		"iteration": iteration,
		"call_id":   call.ID,
		"tool":      call.Name,
		"args":      call.Args,
	})

	if r.cfg.Tools.IsDestructive(call.Name) && !toolexecutor.HasConfirmation(call.Args) {
		st.logger.Warn().Str("tool", call.Name).Str("call_id", call.ID).Msg("Write barrier rejected destructive call")
		observability.RecordWriteBarrierRejection(call.Name)
		observability.RecordWriteBarrierAudit(ctx, st.id, call.Name, map[string]interface{}{"call_id": call.ID})
		return &callOutcome{result: toolexecutor.Failure(CodeConfirmRequired, ErrWriteBarrier.Error())}
	}

	result := r.cfg.Tools.Execute(ctx, call.Name, call.Args, &toolexecutor.ExecutionContext{
		RunID:      st.id,
		Timeout:    r.cfg.ToolTimeout,
		ToolPolicy: r.cfg.ToolPolicy,
	})

	if result.Success {
		if def := r.cfg.Tools.GetTool(call.Name); def != nil && def.Mutation.IsMutating() {
			result = r.verifyMutation(ctx, st, def.Mutation, result)
		}
	}

	status := "success"
	if !result.Success {
		status = "failed"
	}
	observability.RecordToolAudit(ctx, st.id, call.Name, status, map[string]interface{}{
		"call_id":    call.ID,
		"error_code": result.ErrorCode,
	})

	if !result.Success {
		st.failures++
		st.lastFail = &ToolExecutionError{Tool: call.Name, CallID: call.ID, Code: result.ErrorCode, Message: result.Error}
		st.logger.Warn().
			Str("tool", call.Name).
			Str("code", result.ErrorCode).
			Int("consecutive_failures", st.failures).
			Msg("Tool call failed")
		return &callOutcome{result: result, failed: true}
	}

	st.failures = 0
	st.lastFail = nil
	return &callOutcome{result: result}
}

// verifyMutation re-reads the affected items, retrying once. A mutation that
// cannot be confirmed turns the result into a failure.
func (r *Runner) verifyMutation(ctx context.Context, st *run, mutation toolexecutor.MutationKind, result toolexecutor.ToolResult) toolexecutor.ToolResult {
	ids, err := affectedIDs(mutation, result.Data)
	if err == nil && r.cfg.Verifier != nil {
		err = r.cfg.Verifier.Verify(ctx, mutation, ids)
		if err != nil {
			st.logger.Debug().Err(err).Msg("Verification failed, retrying")
			if sleepErr := r.sleep(ctx, r.cfg.VerifyRetryDelay); sleepErr != nil {
				err = sleepErr
			} else {
				err = r.cfg.Verifier.Verify(ctx, mutation, ids)
			}
		}
	}
	if err != nil {
		st.logger.Error().Err(err).Str("mutation", string(mutation)).Msg("Mutation could not be verified")
		return toolexecutor.Failure(CodeVerificationFailed, err.Error())
	}

	st.artifacts.record(mutation, ids)
	return result
}

// affectedIDs pulls item ids out of a tool result
func affectedIDs(mutation toolexecutor.MutationKind, data interface{}) ([]string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("unreadable tool result: %w", err)
	}
	var parsed mutationIDs
	if err := json.Unmarshal(encoded, &parsed); err != nil {
		return nil, fmt.Errorf("tool result carries no item id: %w", err)
	}

	var ids []string
	if mutation == toolexecutor.MutationDelete {
		ids = parsed.DeletedIDs
	}
	if len(ids) == 0 && parsed.ID != "" {
		ids = []string{parsed.ID}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("tool result carries no item id")
	}
	return ids, nil
}

// dedupKey identifies identical calls. encoding/json sorts map keys.
func dedupKey(call transcript.ToolCallRequest) string {
	args, err := json.Marshal(call.Args)
	if err != nil {
		return call.Name + "\x00" + call.ID
	}
	return call.Name + "\x00" + string(args)
}

// Summarize renders a short human-readable account of a run
func Summarize(result *RunResult) string {
	a := result.Artifacts
	counts := fmt.Sprintf("created %d, updated %d, deleted %d item(s) in %d iteration(s)",
		len(a.CreatedItemIDs), len(a.UpdatedItemIDs), len(a.DeletedItemIDs), result.Iterations)

	switch {
	case result.Status == StatusDone:
		return fmt.Sprintf("Done: %s.\n%s", counts, result.Answer)
	case result.Aborted:
		return fmt.Sprintf("Aborted: %s.", counts)
	default:
		return fmt.Sprintf("Failed: %s.\nError: %s", counts, result.Error)
	}
}


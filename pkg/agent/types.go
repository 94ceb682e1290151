package agent

import (
	"context"
	"time"

	"github.com/harun/backlogpilot/pkg/dispatch"
	"github.com/harun/backlogpilot/pkg/provider"
	"github.com/harun/backlogpilot/pkg/toolexecutor"
	"github.com/harun/backlogpilot/pkg/transcript"
)

const (
	DefaultMaxIterations          = 10
	DefaultMaxConsecutiveFailures = 3
	DefaultToolTimeout            = 30 * time.Second
	DefaultVerifyRetryDelay       = 200 * time.Millisecond
)

// Event kinds passed to the EventSink
const (
	EventPlan        = "plan"
	EventToolCall    = "tool_call"
	EventToolResult  = "tool_result"
	EventFinalAnswer = "final_answer"
	EventError       = "error"
)

// Status is the terminal state of a run
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// Failure causes reported on RunResult.Cause
const (
	CauseAborted            = "aborted"
	CauseProvidersExhausted = "providers_exhausted"
	CauseProtocolViolation  = "protocol_violation"
	CauseToolFailures       = "tool_failures"
	CauseIterationCap       = "iteration_cap"
	CauseError              = "error"
)

// Invoker returns the next assistant turn for a transcript
type Invoker interface {
	Invoke(ctx context.Context, req provider.LLMRequest, state *dispatch.ExchangeState) (*dispatch.Reply, error)
}

// Verifier re-reads items after a mutation and returns an error if the
// mutation is not visible
type Verifier interface {
	Verify(ctx context.Context, mutation toolexecutor.MutationKind, ids []string) error
}

// EventSink receives one record per loop step. The run id travels in ctx.
type EventSink interface {
	Record(ctx context.Context, kind string, payload map[string]interface{})
}

// RunParams contains input parameters for one run
type RunParams struct {
	Objective string `json:"objective"`
	// History holds earlier turns in either wire shape; they are placed
	// between the system prompt and the objective.
	History []transcript.RawTurn `json:"-"`
	RunID   string               `json:"run_id,omitempty"`
	// MaxIterations overrides Config.MaxIterations when positive
	MaxIterations int `json:"max_iterations,omitempty"`
}

// RunResult is the outcome of a run. It is returned on failure as well.
type RunResult struct {
	RunID      string              `json:"run_id"`
	Status     Status              `json:"status"`
	Answer     string              `json:"answer,omitempty"`
	Summary    string              `json:"summary"`
	Artifacts  RunArtifacts        `json:"artifacts"`
	Iterations int                 `json:"iterations"`
	Usage      provider.TokenUsage `json:"usage"`
	Aborted    bool                `json:"aborted,omitempty"`
	Cause      string              `json:"cause,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// RunArtifacts lists the item ids a run changed, in first-seen order
type RunArtifacts struct {
	CreatedItemIDs []string `json:"created_item_ids"`
	UpdatedItemIDs []string `json:"updated_item_ids"`
	DeletedItemIDs []string `json:"deleted_item_ids"`
}

func appendUnique(list []string, ids ...string) []string {
	for _, id := range ids {
		found := false
		for _, existing := range list {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			list = append(list, id)
		}
	}
	return list
}

func (a *RunArtifacts) record(mutation toolexecutor.MutationKind, ids []string) {
	switch mutation {
	case toolexecutor.MutationCreate:
		a.CreatedItemIDs = appendUnique(a.CreatedItemIDs, ids...)
	case toolexecutor.MutationUpdate:
		a.UpdatedItemIDs = appendUnique(a.UpdatedItemIDs, ids...)
	case toolexecutor.MutationDelete:
		a.DeletedItemIDs = appendUnique(a.DeletedItemIDs, ids...)
	}
}

// Snapshot returns a copy that later changes do not affect
func (a RunArtifacts) Snapshot() RunArtifacts {
	return RunArtifacts{
		CreatedItemIDs: append([]string{}, a.CreatedItemIDs...),
		UpdatedItemIDs: append([]string{}, a.UpdatedItemIDs...),
		DeletedItemIDs: append([]string{}, a.DeletedItemIDs...),
	}
}

// Empty reports whether the run changed nothing
func (a RunArtifacts) Empty() bool {
	return len(a.CreatedItemIDs) == 0 && len(a.UpdatedItemIDs) == 0 && len(a.DeletedItemIDs) == 0
}

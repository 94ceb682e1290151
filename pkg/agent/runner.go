package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/backlogpilot/internal/observability"
	"github.com/harun/backlogpilot/internal/tracing"
	"github.com/harun/backlogpilot/pkg/dispatch"
	"github.com/harun/backlogpilot/pkg/provider"
	"github.com/harun/backlogpilot/pkg/toolexecutor"
	"github.com/harun/backlogpilot/pkg/transcript"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "backlogpilot.agent"

// Config holds runner configuration
type Config struct {
	Dispatcher Invoker
	Tools      *toolexecutor.ToolExecutor
	Verifier   Verifier  // optional; mutations are recorded unverified without it
	Events     EventSink // optional
	Logger     zerolog.Logger

	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	MaxIterations          int
	MaxConsecutiveFailures int
	ToolTimeout            time.Duration
	VerifyRetryDelay       time.Duration
	ToolPolicy             *toolexecutor.ToolPolicy
}

// Runner drives agent runs
type Runner struct {
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// NewRunner creates a new agent runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.ToolTimeout == 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.VerifyRetryDelay == 0 {
		cfg.VerifyRetryDelay = DefaultVerifyRetryDelay
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.ToolPolicy.Validate(cfg.Tools.ListTools()); err != nil {
		return nil, fmt.Errorf("invalid tool policy: %w", err)
	}

	return &Runner{
		cfg:        cfg,
		sleep:      sleepContext,
		activeRuns: make(map[string]context.CancelFunc),
	}, nil
}

// validateConfig validates agent configuration
func validateConfig(cfg Config) error {
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if cfg.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if cfg.MaxIterations < 0 {
		return fmt.Errorf("max iterations cannot be negative")
	}
	if cfg.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("max consecutive failures cannot be negative")
	}
	if cfg.ToolTimeout < 0 || cfg.VerifyRetryDelay < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	return nil
}

// Abort cancels a running run. The run stops before its next iteration.
func (r *Runner) Abort(runID string) error {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[runID]
	if !exists {
		r.cfg.Logger.Debug().Str("run_id", runID).Msg("No active run to abort")
		return nil
	}

	r.cfg.Logger.Info().Str("run_id", runID).Msg("Aborting agent run")
	cancel()
	delete(r.activeRuns, runID)

	return nil
}

// IsRunning checks if a run is in progress
func (r *Runner) IsRunning(runID string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[runID]
	return exists
}

// run is the state owned by one execution of the loop
type run struct {
	id        string
	turns     []transcript.Turn
	exchange  dispatch.ExchangeState
	artifacts RunArtifacts
	usage     provider.TokenUsage
	failures  int
	lastFail  *ToolExecutionError
	logger    zerolog.Logger
}

// Run executes one objective. The result is always non-nil and carries the
// artifacts gathered so far; err is set when the run failed.
func (r *Runner) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.NewRunContext(ctx, params.RunID)
	runID := tracing.GetRunID(ctx)

	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.run", attribute.String("run_id", runID))
	logger := tracing.LoggerFromContext(ctx, r.cfg.Logger)
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[runID] = cancel
	r.runsMu.Unlock()
	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, runID)
		r.runsMu.Unlock()
	}()

	st := &run{id: runID, logger: logger}
	maxIterations := r.cfg.MaxIterations
	if params.MaxIterations > 0 {
		maxIterations = params.MaxIterations
	}

	answer, iterations, err := r.loop(runCtx, st, params, maxIterations)

	result := &RunResult{
		RunID:      runID,
		Status:     StatusDone,
		Answer:     answer,
		Artifacts:  st.artifacts.Snapshot(),
		Iterations: iterations,
		Usage:      st.usage,
	}
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		result.Cause = failureCause(err)
		result.Aborted = result.Cause == CauseAborted
		r.record(ctx, EventError, map[string]interface{}{
			"iteration": iterations,
			"error":     err.Error(),
			"cause":     result.Cause,
			"terminal":  true,
		})
		logger.Error().Err(err).Str("cause", result.Cause).Int("iterations", iterations).Msg("Agent run failed")
	} else {
		logger.Info().Int("iterations", iterations).Msg("Agent run finished")
	}
	result.Summary = Summarize(result)

	if pinned, ok := st.exchange.Pinned(); ok {
		observability.SetExchangePinned(pinned, false)
	}
	observability.RecordAgentRun(string(result.Status), time.Since(start), iterations)
	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Int("iterations", iterations),
	)
	tracing.EndSpan(span, err)

	return result, err
}

// loop runs iterations until an answer, a terminal error or the cap
func (r *Runner) loop(ctx context.Context, st *run, params RunParams, maxIterations int) (string, int, error) {
	turns := []transcript.Turn{}
	if r.cfg.SystemPrompt != "" {
		turns = append(turns, transcript.System(r.cfg.SystemPrompt))
	}
	turns = append(turns, transcript.Normalize(params.History)...)
	turns = append(turns, transcript.User(params.Objective))
	st.turns = turns

	tools := r.buildTools()

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", iteration - 1, err
		}

		turns, err := transcript.Preflight(transcript.AsRaw(st.turns), st.logger)
		if err != nil {
			return "", iteration - 1, err
		}
		st.turns = turns

		r.record(ctx, EventPlan, map[string]interface{}{
			"iteration":        iteration,
			"turns":            len(st.turns),
			"in_tool_exchange": st.exchange.InToolExchange,
		})

		reply, err := r.invoke(ctx, st, tools, iteration)
		if err != nil {
			return "", iteration, err
		}
		if reply.Usage != nil {
			st.usage.InputTokens += reply.Usage.InputTokens
			st.usage.OutputTokens += reply.Usage.OutputTokens
		}
		st.turns = append(st.turns, reply.Turn)

		if !reply.Turn.HasToolCalls() {
			r.record(ctx, EventFinalAnswer, map[string]interface{}{
				"iteration": iteration,
				"provider":  reply.Provider,
				"content":   reply.Turn.Content,
			})
			return reply.Turn.Content, iteration, nil
		}

		r.executeBatch(ctx, st, reply.Turn.ToolCalls, iteration)

		if r.cfg.MaxConsecutiveFailures > 0 && st.failures >= r.cfg.MaxConsecutiveFailures {
			return "", iteration, &FailureThresholdError{Threshold: r.cfg.MaxConsecutiveFailures, Last: st.lastFail}
		}
	}

	return "", maxIterations, &BudgetExceededError{MaxIterations: maxIterations}
}

// invoke asks the dispatcher for the next turn. A protocol rejection is retried
// once with just the trailing tool exchange.
func (r *Runner) invoke(ctx context.Context, st *run, tools []provider.ToolSchema, iteration int) (*dispatch.Reply, error) {
	req := provider.LLMRequest{
		Model:       r.cfg.Model,
		Turns:       st.turns,
		Tools:       tools,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}

	reply, err := r.cfg.Dispatcher.Invoke(ctx, req, &st.exchange)
	var violation *transcript.ProtocolViolation
	if err == nil || !errors.As(err, &violation) {
		return reply, err
	}

	slice, ok := transcript.ExtractToolExchangeSlice(st.turns)
	r.record(ctx, EventError, map[string]interface{}{
		"iteration": iteration,
		"error":     err.Error(),
		"retry":     ok,
	})
	if !ok {
		return nil, err
	}

	st.logger.Warn().Err(err).Int("slice_turns", len(slice)).Msg("Provider rejected transcript, retrying with tool exchange slice")
	req.Turns = slice
	return r.cfg.Dispatcher.Invoke(ctx, req, &st.exchange)
}

// failureCause names the condition that ended a failed run
func failureCause(err error) string {
	var (
		violation *transcript.ProtocolViolation
		threshold *FailureThresholdError
		budget    *BudgetExceededError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CauseAborted
	case dispatch.IsExhausted(err):
		return CauseProvidersExhausted
	case errors.As(err, &violation):
		return CauseProtocolViolation
	case errors.As(err, &threshold):
		return CauseToolFailures
	case errors.As(err, &budget):
		return CauseIterationCap
	default:
		return CauseError
	}
}

// buildTools converts the registered tools allowed by policy to provider schemas
func (r *Runner) buildTools() []provider.ToolSchema {
	names := toolexecutor.FilterToolsByPolicy(r.cfg.Tools.ListTools(), r.cfg.ToolPolicy)
	tools := make([]provider.ToolSchema, 0, len(names))
	for _, name := range names {
		def := r.cfg.Tools.GetTool(name)
		params, ok := r.cfg.Tools.ParameterSchema(name)
		if def == nil || !ok {
			continue
		}
		tools = append(tools, provider.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return tools
}

func (r *Runner) record(ctx context.Context, kind string, payload map[string]interface{}) {
	if r.cfg.Events == nil {
		return
	}
	r.cfg.Events.Record(ctx, kind, payload)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/backlogpilot/pkg/backlog"
	"github.com/harun/backlogpilot/pkg/dispatch"
	"github.com/harun/backlogpilot/pkg/provider"
	"github.com/harun/backlogpilot/pkg/toolexecutor"
	"github.com/harun/backlogpilot/pkg/transcript"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invokeStep struct {
	turn transcript.Turn
	err  error
}

// scriptedInvoker replays steps in order and repeats the last one.
type scriptedInvoker struct {
	mu       sync.Mutex
	steps    []invokeStep
	requests []provider.LLMRequest
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req provider.LLMRequest, state *dispatch.ExchangeState) (*dispatch.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append([]transcript.Turn{}, req.Turns...)
	req.Turns = turns
	s.requests = append(s.requests, req)

	i := len(s.requests) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	step := s.steps[i]
	if step.err != nil {
		return nil, step.err
	}
	state.Observe("fake", step.turn.HasToolCalls())
	return &dispatch.Reply{
		Turn:     step.turn,
		Usage:    &provider.TokenUsage{InputTokens: 10, OutputTokens: 5},
		Provider: "fake",
	}, nil
}

func (s *scriptedInvoker) Requests() []provider.LLMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.LLMRequest{}, s.requests...)
}

func answer(content string) invokeStep {
	return invokeStep{turn: transcript.Assistant(content)}
}

func calls(cs ...transcript.ToolCallRequest) invokeStep {
	return invokeStep{turn: transcript.Assistant("", cs...)}
}

func call(id, name string, args map[string]interface{}) transcript.ToolCallRequest {
	if args == nil {
		args = map[string]interface{}{}
	}
	return transcript.ToolCallRequest{ID: id, Name: name, Args: args}
}

type eventRecorder struct {
	mu     sync.Mutex
	kinds  []string
	events []map[string]interface{}
}

func (e *eventRecorder) Record(ctx context.Context, kind string, payload map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
	e.events = append(e.events, payload)
}

func (e *eventRecorder) Count(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, k := range e.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// fakeVerifier fails the first failures calls
type fakeVerifier struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (v *fakeVerifier) Verify(ctx context.Context, mutation toolexecutor.MutationKind, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.calls <= v.failures {
		return fmt.Errorf("item %v not visible", ids)
	}
	return nil
}

type fixture struct {
	tools    *toolexecutor.ToolExecutor
	counts   map[string]int
	countsMu sync.Mutex
}

func (f *fixture) hit(name string) {
	f.countsMu.Lock()
	defer f.countsMu.Unlock()
	f.counts[name]++
}

func (f *fixture) Count(name string) int {
	f.countsMu.Lock()
	defer f.countsMu.Unlock()
	return f.counts[name]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{tools: toolexecutor.New(), counts: map[string]int{}}
	nextID := 0

	defs := []toolexecutor.ToolDefinition{
		{
			Name:        "create_item",
			Description: "Create an item",
			Category:    toolexecutor.CategoryWrite,
			Mutation:    toolexecutor.MutationCreate,
			Parameters:  []toolexecutor.ToolParameter{{Name: "title", Type: "string", Description: "Item title", Required: true}},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				f.hit("create_item")
				f.countsMu.Lock()
				nextID++
				id := fmt.Sprintf("EP-%d", nextID)
				f.countsMu.Unlock()
				return map[string]interface{}{"id": id, "title": params["title"]}, nil
			},
		},
		{
			Name:        "delete_item",
			Description: "Delete an item",
			Category:    toolexecutor.CategoryDestructive,
			Mutation:    toolexecutor.MutationDelete,
			Parameters:  []toolexecutor.ToolParameter{{Name: "item_id", Type: "string", Description: "Item to delete", Required: true}},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				f.hit("delete_item")
				return map[string]interface{}{"deleted_ids": []string{params["item_id"].(string)}}, nil
			},
		},
		{
			Name:        "list_items",
			Description: "List items",
			Parameters:  []toolexecutor.ToolParameter{{Name: "parent_id", Type: "string", Description: "Parent filter"}},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				f.hit("list_items")
				return map[string]interface{}{"items": []string{}, "count": 0}, nil
			},
		},
		{
			Name:        "broken",
			Description: "Always fails",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				f.hit("broken")
				return nil, toolexecutor.NewToolError("item_not_found", "no such item")
			},
		},
	}
	for _, def := range defs {
		require.NoError(t, f.tools.RegisterTool(def))
	}
	return f
}

func newTestRunner(t *testing.T, f *fixture, inv Invoker, mutate func(*Config)) *Runner {
	t.Helper()
	cfg := Config{
		Dispatcher:   inv,
		Tools:        f.tools,
		Verifier:     &fakeVerifier{},
		Logger:       zerolog.Nop(),
		Model:        "test-model",
		SystemPrompt: "You manage a backlog.",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return r
}

func toolTurns(turns []transcript.Turn) []transcript.Turn {
	out := []transcript.Turn{}
	for _, t := range turns {
		if t.Role == transcript.RoleTool {
			out = append(out, t)
		}
	}
	return out
}

func TestNewRunner(t *testing.T) {
	f := newFixture(t)

	t.Run("should apply defaults", func(t *testing.T) {
		r := newTestRunner(t, f, &scriptedInvoker{steps: []invokeStep{answer("ok")}}, nil)
		assert.Equal(t, DefaultMaxIterations, r.cfg.MaxIterations)
		assert.Equal(t, DefaultMaxConsecutiveFailures, r.cfg.MaxConsecutiveFailures)
		assert.Equal(t, DefaultToolTimeout, r.cfg.ToolTimeout)
	})

	t.Run("should require dispatcher and tools", func(t *testing.T) {
		_, err := NewRunner(Config{Tools: f.tools})
		assert.Error(t, err)
		_, err = NewRunner(Config{Dispatcher: &scriptedInvoker{}})
		assert.Error(t, err)
	})

	t.Run("should reject invalid temperature", func(t *testing.T) {
		_, err := NewRunner(Config{Dispatcher: &scriptedInvoker{}, Tools: f.tools, Temperature: 3})
		assert.Error(t, err)
	})

	t.Run("should reject policy naming unknown tools", func(t *testing.T) {
		_, err := NewRunner(Config{
			Dispatcher: &scriptedInvoker{},
			Tools:      f.tools,
			ToolPolicy: &toolexecutor.ToolPolicy{Allow: []string{"launch_rocket"}},
		})
		assert.Error(t, err)
	})
}

func TestRunner_Run(t *testing.T) {
	t.Run("should finish on a plain answer", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{answer("Nothing to do.")}}
		events := &eventRecorder{}
		r := newTestRunner(t, f, inv, func(c *Config) { c.Events = events })

		result, err := r.Run(context.Background(), RunParams{Objective: "hello", RunID: "run-1"})
		require.NoError(t, err)

		assert.Equal(t, "run-1", result.RunID)
		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, "Nothing to do.", result.Answer)
		assert.Equal(t, 1, result.Iterations)
		assert.True(t, result.Artifacts.Empty())
		assert.Contains(t, result.Summary, "Done")
		assert.Equal(t, 10, result.Usage.InputTokens)
		assert.Equal(t, 1, events.Count(EventPlan))
		assert.Equal(t, 1, events.Count(EventFinalAnswer))

		req := inv.Requests()[0]
		require.Len(t, req.Turns, 2)
		assert.Equal(t, transcript.RoleSystem, req.Turns[0].Role)
		assert.Equal(t, "hello", req.Turns[1].Content)
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Tools, 4)
	})

	t.Run("should place normalized history before the objective", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{answer("ok")}}
		r := newTestRunner(t, f, inv, nil)

		history := []transcript.RawTurn{
			transcript.Record{"role": "user", "content": "earlier question"},
			transcript.Record{"role": "assistant", "content": "earlier answer"},
			transcript.Record{"role": "tool", "content": "stale", "tool_call_id": "orphan"},
		}
		_, err := r.Run(context.Background(), RunParams{Objective: "now", History: history})
		require.NoError(t, err)

		turns := inv.Requests()[0].Turns
		require.Len(t, turns, 4)
		assert.Equal(t, "earlier question", turns[1].Content)
		assert.Equal(t, "earlier answer", turns[2].Content)
		assert.Equal(t, "now", turns[3].Content)
	})

	t.Run("should execute tools and record verified artifacts", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("c1", "create_item", map[string]interface{}{"title": "Checkout"})),
			answer("Created the epic."),
		}}
		events := &eventRecorder{}
		r := newTestRunner(t, f, inv, func(c *Config) { c.Events = events })

		result, err := r.Run(context.Background(), RunParams{Objective: "create an epic"})
		require.NoError(t, err)

		assert.Equal(t, []string{"EP-1"}, result.Artifacts.CreatedItemIDs)
		assert.Equal(t, 2, result.Iterations)
		assert.Equal(t, 1, events.Count(EventToolCall))
		assert.Equal(t, 1, events.Count(EventToolResult))

		second := inv.Requests()[1].Turns
		tools := toolTurns(second)
		require.Len(t, tools, 1)
		assert.Equal(t, "c1", tools[0].ToolCallID)
		assert.Contains(t, tools[0].Content, "EP-1")
	})

	t.Run("should execute identical calls once and answer every id", func(t *testing.T) {
		f := newFixture(t)
		args := map[string]interface{}{"title": "Same"}
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("a", "create_item", args), call("b", "create_item", map[string]interface{}{"title": "Same"})),
			answer("done"),
		}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "create"})
		require.NoError(t, err)

		assert.Equal(t, 1, f.Count("create_item"))
		assert.Equal(t, []string{"EP-1"}, result.Artifacts.CreatedItemIDs)

		tools := toolTurns(inv.Requests()[1].Turns)
		require.Len(t, tools, 2)
		assert.Equal(t, "a", tools[0].ToolCallID)
		assert.Equal(t, "b", tools[1].ToolCallID)
		assert.Equal(t, tools[0].Content, tools[1].Content)
	})

	t.Run("should refuse destructive calls without confirmation", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("d1", "delete_item", map[string]interface{}{"item_id": "EP-9"})),
			answer("Please confirm."),
		}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "delete EP-9"})
		require.NoError(t, err)

		assert.Equal(t, 0, f.Count("delete_item"))
		assert.Empty(t, result.Artifacts.DeletedItemIDs)

		tools := toolTurns(inv.Requests()[1].Turns)
		require.Len(t, tools, 1)
		assert.Equal(t, "d1", tools[0].ToolCallID)
		assert.Contains(t, tools[0].Content, CodeConfirmRequired)
	})

	t.Run("should run destructive calls carrying confirmation", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("d1", "delete_item", map[string]interface{}{"item_id": "EP-9", "confirm": true})),
			answer("Deleted."),
		}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "delete EP-9, I confirm"})
		require.NoError(t, err)

		assert.Equal(t, 1, f.Count("delete_item"))
		assert.Equal(t, []string{"EP-9"}, result.Artifacts.DeletedItemIDs)
	})

	t.Run("should not count write barrier rejections as failures", func(t *testing.T) {
		f := newFixture(t)
		refuse := calls(call("d", "delete_item", map[string]interface{}{"item_id": "EP-1"}))
		inv := &scriptedInvoker{steps: []invokeStep{refuse, refuse, refuse, refuse, answer("ok")}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "delete"})
		require.NoError(t, err)
		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, 5, result.Iterations)
	})

	t.Run("should fail a mutation that cannot be verified twice", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("c1", "create_item", map[string]interface{}{"title": "Ghost"})),
			answer("gave up"),
		}}
		verifier := &fakeVerifier{failures: 2}
		r := newTestRunner(t, f, inv, func(c *Config) { c.Verifier = verifier })

		result, err := r.Run(context.Background(), RunParams{Objective: "create"})
		require.NoError(t, err)

		assert.Equal(t, 2, verifier.calls)
		assert.Empty(t, result.Artifacts.CreatedItemIDs)
		tools := toolTurns(inv.Requests()[1].Turns)
		require.Len(t, tools, 1)
		assert.Contains(t, tools[0].Content, CodeVerificationFailed)
	})

	t.Run("should accept a mutation verified on retry", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("c1", "create_item", map[string]interface{}{"title": "Slow"})),
			answer("ok"),
		}}
		verifier := &fakeVerifier{failures: 1}
		r := newTestRunner(t, f, inv, func(c *Config) { c.Verifier = verifier })

		result, err := r.Run(context.Background(), RunParams{Objective: "create"})
		require.NoError(t, err)
		assert.Equal(t, []string{"EP-1"}, result.Artifacts.CreatedItemIDs)
	})

	t.Run("should abort after consecutive tool failures", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("x", "broken", nil)),
		}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "break things"})
		require.Error(t, err)

		var threshold *FailureThresholdError
		require.ErrorAs(t, err, &threshold)
		assert.Equal(t, 3, threshold.Threshold)
		assert.Equal(t, "item_not_found", threshold.Last.Code)
		assert.Equal(t, 3, result.Iterations)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, CauseToolFailures, result.Cause)
		assert.Equal(t, 3, f.Count("broken"))
	})

	t.Run("should reset the failure streak on success", func(t *testing.T) {
		f := newFixture(t)
		fail := calls(call("x", "broken", nil))
		ok := calls(call("l", "list_items", nil))
		inv := &scriptedInvoker{steps: []invokeStep{fail, fail, ok, fail, fail, answer("done")}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "mixed"})
		require.NoError(t, err)
		assert.Equal(t, 6, result.Iterations)
	})

	t.Run("should stop at the iteration cap", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("l", "list_items", nil)),
		}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "loop forever"})
		require.Error(t, err)

		var budget *BudgetExceededError
		require.ErrorAs(t, err, &budget)
		assert.Equal(t, DefaultMaxIterations, budget.MaxIterations)
		assert.Equal(t, DefaultMaxIterations, result.Iterations)
		assert.Equal(t, CauseIterationCap, result.Cause)
		assert.Len(t, inv.Requests(), DefaultMaxIterations)
		assert.Contains(t, result.Summary, "Failed")
	})

	t.Run("should honor a per-run iteration cap", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("l", "list_items", nil)),
		}}
		r := newTestRunner(t, f, inv, nil)

		_, err := r.Run(context.Background(), RunParams{Objective: "loop", MaxIterations: 2})
		var budget *BudgetExceededError
		require.ErrorAs(t, err, &budget)
		assert.Len(t, inv.Requests(), 2)
	})

	t.Run("should preserve artifacts when providers are exhausted", func(t *testing.T) {
		f := newFixture(t)
		exhausted := &dispatch.ProviderExhaustedError{Providers: []string{"a", "b"}, Last: dispatch.ErrQuotaExhausted}
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("c1", "create_item", map[string]interface{}{"title": "Kept"})),
			{err: exhausted},
		}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "create"})
		require.Error(t, err)
		assert.True(t, dispatch.IsExhausted(err))
		assert.Equal(t, []string{"EP-1"}, result.Artifacts.CreatedItemIDs)
		assert.Equal(t, CauseProvidersExhausted, result.Cause)
		assert.False(t, result.Aborted)
	})

	t.Run("should retry once with the tool exchange slice on protocol violation", func(t *testing.T) {
		f := newFixture(t)
		violation := &transcript.ProtocolViolation{Reason: "provider rejected tool-call pairing", Index: -1}
		inv := &scriptedInvoker{steps: []invokeStep{
			calls(call("l", "list_items", nil)),
			{err: violation},
			answer("recovered"),
		}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "list"})
		require.NoError(t, err)
		assert.Equal(t, "recovered", result.Answer)

		reqs := inv.Requests()
		require.Len(t, reqs, 3)
		slice := reqs[2].Turns
		require.Len(t, slice, 3)
		assert.Equal(t, transcript.RoleUser, slice[0].Role)
		assert.Equal(t, transcript.RoleAssistant, slice[1].Role)
		assert.Equal(t, "l", slice[2].ToolCallID)
	})

	t.Run("should surface a protocol violation with no exchange to retry", func(t *testing.T) {
		f := newFixture(t)
		violation := &transcript.ProtocolViolation{Reason: "rejected", Index: -1}
		inv := &scriptedInvoker{steps: []invokeStep{{err: violation}}}
		r := newTestRunner(t, f, inv, nil)

		result, err := r.Run(context.Background(), RunParams{Objective: "hi"})
		var pv *transcript.ProtocolViolation
		require.ErrorAs(t, err, &pv)
		assert.Equal(t, CauseProtocolViolation, result.Cause)
		assert.Len(t, inv.Requests(), 1)
	})

	t.Run("should stop when the context is cancelled", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{answer("never")}}
		r := newTestRunner(t, f, inv, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := r.Run(ctx, RunParams{Objective: "hi"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.True(t, result.Aborted)
		assert.Equal(t, CauseAborted, result.Cause)
		assert.Equal(t, 0, result.Iterations)
		assert.Empty(t, inv.Requests())
		assert.Contains(t, result.Summary, "Aborted")
	})

	t.Run("should offer only tools allowed by policy", func(t *testing.T) {
		f := newFixture(t)
		inv := &scriptedInvoker{steps: []invokeStep{answer("ok")}}
		r := newTestRunner(t, f, inv, func(c *Config) {
			c.ToolPolicy = &toolexecutor.ToolPolicy{Allow: []string{"*"}, Deny: []string{"delete_item"}}
		})

		_, err := r.Run(context.Background(), RunParams{Objective: "hi"})
		require.NoError(t, err)

		names := []string{}
		for _, tool := range inv.Requests()[0].Tools {
			names = append(names, tool.Name)
		}
		assert.Equal(t, []string{"broken", "create_item", "list_items"}, names)
	})
}

// blockingInvoker waits until the run is aborted
type blockingInvoker struct {
	started chan struct{}
}

func (b *blockingInvoker) Invoke(ctx context.Context, req provider.LLMRequest, state *dispatch.ExchangeState) (*dispatch.Reply, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunner_Abort(t *testing.T) {
	t.Run("should cancel an active run", func(t *testing.T) {
		f := newFixture(t)
		inv := &blockingInvoker{started: make(chan struct{})}
		r := newTestRunner(t, f, inv, nil)

		done := make(chan error, 1)
		var result *RunResult
		go func() {
			var err error
			result, err = r.Run(context.Background(), RunParams{Objective: "wait", RunID: "run-abort"})
			done <- err
		}()

		<-inv.started
		assert.True(t, r.IsRunning("run-abort"))
		require.NoError(t, r.Abort("run-abort"))

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
			assert.True(t, result.Aborted)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not stop after abort")
		}
		assert.False(t, r.IsRunning("run-abort"))
	})

	t.Run("should ignore unknown runs", func(t *testing.T) {
		f := newFixture(t)
		r := newTestRunner(t, f, &scriptedInvoker{steps: []invokeStep{answer("ok")}}, nil)
		assert.NoError(t, r.Abort("missing"))
	})
}

func TestSummarize(t *testing.T) {
	t.Run("should count artifacts", func(t *testing.T) {
		s := Summarize(&RunResult{
			Status:     StatusDone,
			Answer:     "All set.",
			Iterations: 3,
			Artifacts:  RunArtifacts{CreatedItemIDs: []string{"EP-1", "CAP-1"}, DeletedItemIDs: []string{"US-1"}},
		})
		assert.Contains(t, s, "created 2, updated 0, deleted 1 item(s) in 3 iteration(s)")
		assert.Contains(t, s, "All set.")
	})
}

func TestRunArtifacts(t *testing.T) {
	t.Run("should keep first-seen order without duplicates", func(t *testing.T) {
		var a RunArtifacts
		a.record(toolexecutor.MutationCreate, []string{"EP-1"})
		a.record(toolexecutor.MutationCreate, []string{"EP-2", "EP-1"})
		a.record(toolexecutor.MutationNone, []string{"EP-3"})
		assert.Equal(t, []string{"EP-1", "EP-2"}, a.CreatedItemIDs)

		snap := a.Snapshot()
		a.record(toolexecutor.MutationCreate, []string{"EP-4"})
		assert.Len(t, snap.CreatedItemIDs, 2)
	})
}

func TestAffectedIDs(t *testing.T) {
	t.Run("should read ids from results", func(t *testing.T) {
		ids, err := affectedIDs(toolexecutor.MutationDelete, map[string]interface{}{"deleted_ids": []string{"EP-1", "CAP-2"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"EP-1", "CAP-2"}, ids)

		ids, err = affectedIDs(toolexecutor.MutationUpdate, map[string]interface{}{"id": "FEAT-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"FEAT-1"}, ids)

		_, err = affectedIDs(toolexecutor.MutationCreate, map[string]interface{}{"title": "x"})
		assert.Error(t, err)
	})
}

func TestRunner_LargeMutationResults(t *testing.T) {
	store, err := backlog.NewStore(backlog.Config{Path: filepath.Join(t.TempDir(), "backlog.db"), Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tools := toolexecutor.New()
	require.NoError(t, backlog.RegisterTools(tools, store))

	description := strings.Repeat("long text ", 1200)
	inv := &scriptedInvoker{steps: []invokeStep{
		calls(call("c1", "create_item", map[string]interface{}{
			"kind": "epic", "title": "Reporting", "description": description,
		})),
		answer("Created."),
	}}
	r, err := NewRunner(Config{
		Dispatcher: inv,
		Tools:      tools,
		Verifier:   store,
		Logger:     zerolog.Nop(),
		Model:      "test-model",
	})
	require.NoError(t, err)

	result, err := r.Run(context.Background(), RunParams{Objective: "add a reporting epic", RunID: "run-large"})
	require.NoError(t, err)

	items, err := store.List(context.Background(), backlog.Filter{})
	require.NoError(t, err)
	require.Len(t, items, 1)

	t.Run("should verify and record the created item", func(t *testing.T) {
		assert.Equal(t, StatusDone, result.Status)
		assert.Equal(t, []string{items[0].ID}, result.Artifacts.CreatedItemIDs)
	})

	t.Run("should hand the model a truncated success", func(t *testing.T) {
		toolTurn := toolTurns(inv.Requests()[1].Turns)[0]
		assert.Contains(t, toolTurn.Content, `"success":true`)
		assert.Contains(t, toolTurn.Content, "[output truncated]")
		assert.NotContains(t, toolTurn.Content, CodeVerificationFailed)
	})
}

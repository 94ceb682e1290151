package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/backlogpilot/internal/config"
	"github.com/harun/backlogpilot/internal/logger"
	"github.com/harun/backlogpilot/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	params agent.RunParams
	result *agent.RunResult
	err    error
	closed bool
}

func (f *fakeRunner) Run(ctx context.Context, params agent.RunParams) (*agent.RunResult, error) {
	f.params = params
	return f.result, f.err
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func stubRunner(t *testing.T, f *fakeRunner) {
	t.Helper()
	prev := newRunner
	newRunner = func(*config.Config, *logger.Logger) (runner, error) { return f, nil }
	t.Cleanup(func() { newRunner = prev })
}

func TestRunCommand(t *testing.T) {
	t.Run("should print summary and artifacts", func(t *testing.T) {
		path, _ := writeTestConfig(t)
		f := &fakeRunner{result: &agent.RunResult{
			RunID:     "run-1",
			Status:    agent.StatusDone,
			Summary:   "Done: created 1, updated 0, deleted 0 item(s) in 2 iteration(s).",
			Artifacts: agent.RunArtifacts{CreatedItemIDs: []string{"EP-1"}},
		}}
		stubRunner(t, f)

		out, err := execute(t, "run", "--config", path, "--max-iterations", "4", "add", "an", "epic")
		require.NoError(t, err)

		assert.Equal(t, "add an epic", f.params.Objective)
		assert.Equal(t, 4, f.params.MaxIterations)
		assert.True(t, f.closed)
		assert.Contains(t, out, "Run: run-1")
		assert.Contains(t, out, "Created: EP-1")
		assert.NotContains(t, out, "Deleted:")
	})

	t.Run("should print partial artifacts and fail", func(t *testing.T) {
		path, _ := writeTestConfig(t)
		f := &fakeRunner{
			result: &agent.RunResult{
				RunID:     "run-2",
				Status:    agent.StatusFailed,
				Summary:   "Failed",
				Artifacts: agent.RunArtifacts{UpdatedItemIDs: []string{"FEAT-1"}},
			},
			err: &agent.BudgetExceededError{MaxIterations: 10},
		}
		stubRunner(t, f)

		out, err := execute(t, "run", "--config", path, "loop")
		require.Error(t, err)

		var budget *agent.BudgetExceededError
		assert.True(t, errors.As(err, &budget))
		assert.Contains(t, out, "Updated: FEAT-1")
	})

	t.Run("should emit JSON", func(t *testing.T) {
		path, _ := writeTestConfig(t)
		stubRunner(t, &fakeRunner{result: &agent.RunResult{RunID: "run-3", Status: agent.StatusDone}})

		out, err := execute(t, "run", "--config", path, "--json", "hi")
		require.NoError(t, err)

		var decoded agent.RunResult
		require.NoError(t, json.Unmarshal([]byte(out), &decoded))
		assert.Equal(t, "run-3", decoded.RunID)
	})

	t.Run("should pass history turns", func(t *testing.T) {
		path, dir := writeTestConfig(t)
		historyPath := filepath.Join(dir, "history.json")
		require.NoError(t, os.WriteFile(historyPath, []byte(`[
			{"role": "user", "content": "earlier"},
			{"role": "assistant", "content": "noted"}
		]`), 0644))
		f := &fakeRunner{result: &agent.RunResult{RunID: "run-4", Status: agent.StatusDone}}
		stubRunner(t, f)

		_, err := execute(t, "run", "--config", path, "--history", historyPath, "continue")
		require.NoError(t, err)
		assert.Len(t, f.params.History, 2)
	})

	t.Run("should require an objective", func(t *testing.T) {
		_, err := execute(t, "run")
		assert.Error(t, err)
	})

	t.Run("should reject a negative iteration cap", func(t *testing.T) {
		_, err := execute(t, "run", "--max-iterations", "-1", "x")
		assert.Error(t, err)
	})
}

func TestLoadHistory(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		turns, err := loadHistory("")
		require.NoError(t, err)
		assert.Nil(t, turns)
	})

	t.Run("invalid json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "h.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))
		_, err := loadHistory(path)
		assert.Error(t, err)
	})
}

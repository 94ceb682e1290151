package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/harun/backlogpilot/internal/config"
	"github.com/harun/backlogpilot/internal/logger"
	"github.com/harun/backlogpilot/pkg/agent"
	"github.com/harun/backlogpilot/pkg/backlog"
	"github.com/harun/backlogpilot/pkg/provider"
	"github.com/harun/backlogpilot/pkg/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayProvider returns one response per call and repeats the last
type replayProvider struct {
	mu        sync.Mutex
	responses []*provider.LLMResponse
	calls     int
}

func (p *replayProvider) Call(ctx context.Context, req provider.LLMRequest) (*provider.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	return p.responses[i], nil
}

func (p *replayProvider) Provider() string { return "replay" }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Store.Path = filepath.Join(dir, "backlog.db")
	cfg.RunLog.Dir = filepath.Join(dir, "runs")
	cfg.Logging.AuditFile = filepath.Join(dir, "audit.log")
	cfg.Providers = []config.ProviderConfig{{ID: "primary", Kind: config.KindOpenAI, APIKey: "sk-test"}}
	return cfg
}

func stubProvider(t *testing.T, p provider.LLMProvider) {
	t.Helper()
	prev := newProvider
	newProvider = func(config.ProviderConfig) (provider.LLMProvider, error) { return p, nil }
	t.Cleanup(func() { newProvider = prev })
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return log
}

func TestNew(t *testing.T) {
	t.Run("should reject a config without providers", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Providers = nil

		_, err := New(cfg, testLogger(t))
		assert.Error(t, err)
	})

	t.Run("should register the backlog tools", func(t *testing.T) {
		stubProvider(t, &replayProvider{responses: []*provider.LLMResponse{{Content: "ok"}}})

		a, err := New(testConfig(t), testLogger(t))
		require.NoError(t, err)
		defer a.Close()

		assert.Equal(t, 6, a.Tools().GetToolCount())
		assert.True(t, a.Tools().IsDestructive("delete_item"))
	})
}

func TestAppRun(t *testing.T) {
	t.Run("should create items and record the run", func(t *testing.T) {
		stubProvider(t, &replayProvider{responses: []*provider.LLMResponse{
			{ToolCalls: []transcript.RawToolCall{
				transcript.ToolCallRequest{ID: "call_1", Name: "create_item", Args: map[string]interface{}{"kind": "epic", "title": "Checkout"}},
			}},
			{Content: "Created the Checkout epic."},
		}})

		a, err := New(testConfig(t), testLogger(t))
		require.NoError(t, err)
		defer a.Close()

		result, err := a.Run(context.Background(), agent.RunParams{Objective: "Add a checkout epic", RunID: "run-e2e"})
		require.NoError(t, err)

		assert.Equal(t, agent.StatusDone, result.Status)
		require.Len(t, result.Artifacts.CreatedItemIDs, 1)

		item, err := a.Store().Get(context.Background(), result.Artifacts.CreatedItemIDs[0])
		require.NoError(t, err)
		assert.Equal(t, backlog.KindEpic, item.Kind)
		assert.Equal(t, "Checkout", item.Title)

		events, err := a.RunLog().Load(context.Background(), "run-e2e")
		require.NoError(t, err)
		kinds := []string{}
		for _, e := range events {
			kinds = append(kinds, e.Kind)
		}
		assert.Equal(t, []string{
			agent.EventPlan, agent.EventToolCall, agent.EventToolResult,
			agent.EventPlan, agent.EventFinalAnswer,
		}, kinds)
	})

	t.Run("should refuse an unconfirmed delete end to end", func(t *testing.T) {
		cfg := testConfig(t)
		seed, err := backlog.NewStore(backlog.Config{Path: cfg.Store.Path})
		require.NoError(t, err)
		epic, err := seed.Create(context.Background(), backlog.NewItem{Kind: backlog.KindEpic, Title: "Keep me"})
		require.NoError(t, err)
		require.NoError(t, seed.Close())

		stubProvider(t, &replayProvider{responses: []*provider.LLMResponse{
			{ToolCalls: []transcript.RawToolCall{
				transcript.ToolCallRequest{ID: "call_1", Name: "delete_item", Args: map[string]interface{}{"item_id": epic.ID}},
			}},
			{Content: "Deleting needs your confirmation."},
		}})

		a, err := New(cfg, testLogger(t))
		require.NoError(t, err)
		defer a.Close()

		result, err := a.Run(context.Background(), agent.RunParams{Objective: "remove the epic"})
		require.NoError(t, err)
		assert.Empty(t, result.Artifacts.DeletedItemIDs)

		exists, err := a.Store().Exists(context.Background(), epic.ID)
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestClose(t *testing.T) {
	t.Run("should be safe to call twice", func(t *testing.T) {
		stubProvider(t, &replayProvider{responses: []*provider.LLMResponse{{Content: "ok"}}})

		a, err := New(testConfig(t), testLogger(t))
		require.NoError(t, err)
		assert.NoError(t, a.Close())
		assert.NoError(t, a.Close())
	})
}

package backlog

import (
	"context"
	"testing"

	"github.com/harun/backlogpilot/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*toolexecutor.ToolExecutor, *Store) {
	t.Helper()
	store := newTestStore(t)
	exec := toolexecutor.New()
	require.NoError(t, RegisterTools(exec, store))
	return exec, store
}

func TestRegisterTools(t *testing.T) {
	exec, _ := newTestExecutor(t)

	assert.Equal(t, []string{"create_item", "delete_item", "get_item", "list_items", "move_item", "update_item"}, exec.ListTools())
	assert.True(t, exec.IsDestructive("delete_item"))
	assert.Equal(t, toolexecutor.MutationCreate, exec.GetTool("create_item").Mutation)
	assert.Equal(t, toolexecutor.MutationNone, exec.GetTool("list_items").Mutation)
}

func TestBacklogTools(t *testing.T) {
	exec, store := newTestExecutor(t)
	ctx := context.Background()

	run := func(name string, params map[string]interface{}) toolexecutor.ToolResult {
		return exec.Execute(ctx, name, params, nil)
	}

	created := run("create_item", map[string]interface{}{"kind": "epic", "title": "Checkout", "priority": float64(1)})
	require.True(t, created.Success, created.Error)
	epic := created.Data.(*Item)
	assert.Equal(t, 1, epic.Priority)

	t.Run("should report invalid hierarchy", func(t *testing.T) {
		result := run("create_item", map[string]interface{}{"kind": "feature", "title": "x", "parent_id": epic.ID})
		assert.False(t, result.Success)
		assert.Equal(t, CodeInvalidHierarchy, result.ErrorCode)
	})

	t.Run("should report missing items", func(t *testing.T) {
		result := run("get_item", map[string]interface{}{"item_id": "EP-NOPE"})
		assert.False(t, result.Success)
		assert.Equal(t, CodeItemNotFound, result.ErrorCode)
	})

	t.Run("should reject fractional priorities", func(t *testing.T) {
		result := run("update_item", map[string]interface{}{"item_id": epic.ID, "priority": 1.5})
		assert.False(t, result.Success)
	})

	t.Run("should update and list", func(t *testing.T) {
		result := run("update_item", map[string]interface{}{"item_id": epic.ID, "status": "ready"})
		require.True(t, result.Success, result.Error)
		assert.Equal(t, StatusReady, result.Data.(*Item).Status)

		capResult := run("create_item", map[string]interface{}{"kind": "capability", "title": "Payments", "parent_id": epic.ID})
		require.True(t, capResult.Success, capResult.Error)

		listed := run("list_items", map[string]interface{}{"parent_id": epic.ID})
		require.True(t, listed.Success)
		assert.Equal(t, 1, listed.Data.(ListResult).Count)
	})

	t.Run("should refuse delete without confirm", func(t *testing.T) {
		result := run("delete_item", map[string]interface{}{"item_id": epic.ID})
		assert.False(t, result.Success)
		assert.Equal(t, CodeExplicitConfirmRequired, result.ErrorCode)

		exists, err := store.Exists(ctx, epic.ID)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("should cascade delete with confirm", func(t *testing.T) {
		result := run("delete_item", map[string]interface{}{"item_id": epic.ID, "confirm": true})
		require.True(t, result.Success, result.Error)
		assert.Len(t, result.Data.(DeleteResult).DeletedIDs, 2)
	})
}

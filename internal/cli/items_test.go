package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/harun/backlogpilot/pkg/backlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemsCommand(t *testing.T) {
	t.Run("should report an empty backlog", func(t *testing.T) {
		path, _ := writeTestConfig(t)

		out, err := execute(t, "items", "--config", path)
		require.NoError(t, err)
		assert.Equal(t, "No items.\n", out)
	})

	t.Run("should print the tree indented by depth", func(t *testing.T) {
		path, dir := writeTestConfig(t)
		store, err := backlog.NewStore(backlog.Config{Path: filepath.Join(dir, "backlog.db")})
		require.NoError(t, err)
		ctx := context.Background()
		epic, err := store.Create(ctx, backlog.NewItem{Kind: backlog.KindEpic, Title: "Payments"})
		require.NoError(t, err)
		capability, err := store.Create(ctx, backlog.NewItem{Kind: backlog.KindCapability, Title: "Refunds", ParentID: epic.ID})
		require.NoError(t, err)
		require.NoError(t, store.Close())

		out, err := execute(t, "items", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, epic.ID+" [epic] Payments")
		assert.Contains(t, out, "  "+capability.ID+" [capability] Refunds")

		out, err = execute(t, "items", "--config", path, "--parent", capability.ID)
		require.NoError(t, err)
		assert.NotContains(t, out, "Payments")
		assert.Contains(t, out, "Refunds")
	})

	t.Run("should fail for an unknown parent", func(t *testing.T) {
		path, _ := writeTestConfig(t)

		_, err := execute(t, "items", "--config", path, "--parent", "EP-MISSING1")
		assert.Error(t, err)
	})
}

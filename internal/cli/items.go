package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/harun/backlogpilot/pkg/backlog"
	"github.com/spf13/cobra"
)

var itemsParent string

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Print the work-item tree",
	Args:  cobra.NoArgs,
	RunE:  runItems,
}

func init() {
	itemsCmd.Flags().StringVar(&itemsParent, "parent", "", "print only the subtree under this item")
	rootCmd.AddCommand(itemsCmd)
}

func runItems(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	store, err := backlog.NewStore(backlog.Config{Path: cfg.Store.Path, Logger: log.Component("backlog")})
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if itemsParent != "" {
		root, err := store.Get(ctx, itemsParent)
		if err != nil {
			return err
		}
		writeItem(out, root, 0)
		return printChildren(cmd, store, out, root.ID, 1)
	}

	roots, err := store.List(ctx, backlog.Filter{ParentID: stringPtr("")})
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		fmt.Fprintln(out, "No items.")
		return nil
	}
	for _, item := range roots {
		writeItem(out, item, 0)
		if err := printChildren(cmd, store, out, item.ID, 1); err != nil {
			return err
		}
	}
	return nil
}

func printChildren(cmd *cobra.Command, store *backlog.Store, out io.Writer, parentID string, depth int) error {
	children, err := store.List(cmd.Context(), backlog.Filter{ParentID: stringPtr(parentID)})
	if err != nil {
		return err
	}
	for _, child := range children {
		writeItem(out, child, depth)
		if err := printChildren(cmd, store, out, child.ID, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func writeItem(out io.Writer, item *backlog.Item, depth int) {
	fmt.Fprintf(out, "%s%s [%s] %s (P%d, %s)\n",
		strings.Repeat("  ", depth), item.ID, item.Kind, item.Title, item.Priority, item.Status)
}

func stringPtr(s string) *string {
	return &s
}

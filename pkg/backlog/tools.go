package backlog

import (
	"context"
	"fmt"
	"math"

	"github.com/harun/backlogpilot/pkg/toolexecutor"
)

// DeleteResult is returned by delete_item
type DeleteResult struct {
	DeletedIDs []string `json:"deleted_ids"`
}

// ListResult is returned by list_items
type ListResult struct {
	Items []*Item `json:"items"`
	Count int     `json:"count"`
}

func kindEnum() []interface{} {
	out := []interface{}{}
	for _, k := range Kinds() {
		out = append(out, string(k))
	}
	return out
}

func statusEnum() []interface{} {
	out := []interface{}{}
	for _, s := range Statuses() {
		out = append(out, string(s))
	}
	return out
}

// Tools returns the backlog tool definitions bound to store
func Tools(store *Store) []toolexecutor.ToolDefinition {
	itemID := toolexecutor.ToolParameter{Name: "item_id", Type: "string", Description: "Id of the work item, e.g. EP-7K2M9Q4D", Required: true}
	priority := toolexecutor.ToolParameter{Name: "priority", Type: "integer", Description: "Priority from 0 (highest) to 3 (lowest)"}

	return []toolexecutor.ToolDefinition{
		{
			Name:        "create_item",
			Description: "Create a work item. Epics are roots; every other kind needs a parent of the kind directly above it (epic > capability > feature > user_story > use_case).",
			Category:    toolexecutor.CategoryWrite,
			Mutation:    toolexecutor.MutationCreate,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "kind", Type: "string", Description: "Kind of item", Required: true, Enum: kindEnum()},
				{Name: "title", Type: "string", Description: "Short title", Required: true},
				{Name: "description", Type: "string", Description: "Longer description"},
				{Name: "parent_id", Type: "string", Description: "Id of the parent item"},
				priority,
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				p, err := optionalInt(params, "priority")
				if err != nil {
					return nil, err
				}
				item, err := store.Create(ctx, NewItem{
					Kind:        Kind(stringParam(params, "kind")),
					Title:       stringParam(params, "title"),
					Description: stringParam(params, "description"),
					ParentID:    stringParam(params, "parent_id"),
					Priority:    p,
				})
				return item, toolError(err)
			},
		},
		{
			Name:        "get_item",
			Description: "Fetch one work item by id.",
			Category:    toolexecutor.CategoryRead,
			Parameters:  []toolexecutor.ToolParameter{itemID},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				item, err := store.Get(ctx, stringParam(params, "item_id"))
				return item, toolError(err)
			},
		},
		{
			Name:        "list_items",
			Description: "List work items, optionally only the children of one parent and/or one kind. Without parent_id all items are listed.",
			Category:    toolexecutor.CategoryRead,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "parent_id", Type: "string", Description: "Only list direct children of this item"},
				{Name: "kind", Type: "string", Description: "Only list items of this kind", Enum: kindEnum()},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var f Filter
				if parent, ok := params["parent_id"].(string); ok && parent != "" {
					f.ParentID = &parent
				}
				f.Kind = Kind(stringParam(params, "kind"))
				items, err := store.List(ctx, f)
				if err != nil {
					return nil, toolError(err)
				}
				return ListResult{Items: items, Count: len(items)}, nil
			},
		},
		{
			Name:        "update_item",
			Description: "Change the title, description, status or priority of a work item.",
			Category:    toolexecutor.CategoryWrite,
			Mutation:    toolexecutor.MutationUpdate,
			Parameters: []toolexecutor.ToolParameter{
				itemID,
				{Name: "title", Type: "string", Description: "New title"},
				{Name: "description", Type: "string", Description: "New description"},
				{Name: "status", Type: "string", Description: "New status", Enum: statusEnum()},
				priority,
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var patch Patch
				if v, ok := params["title"].(string); ok {
					patch.Title = &v
				}
				if v, ok := params["description"].(string); ok {
					patch.Description = &v
				}
				if v, ok := params["status"].(string); ok {
					st := Status(v)
					patch.Status = &st
				}
				p, err := optionalInt(params, "priority")
				if err != nil {
					return nil, err
				}
				patch.Priority = p

				item, err := store.Update(ctx, stringParam(params, "item_id"), patch)
				return item, toolError(err)
			},
		},
		{
			Name:        "move_item",
			Description: "Move a work item under a new parent of the kind directly above it.",
			Category:    toolexecutor.CategoryWrite,
			Mutation:    toolexecutor.MutationUpdate,
			Parameters: []toolexecutor.ToolParameter{
				itemID,
				{Name: "new_parent_id", Type: "string", Description: "Id of the new parent", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				item, err := store.Move(ctx, stringParam(params, "item_id"), stringParam(params, "new_parent_id"))
				return item, toolError(err)
			},
		},
		{
			Name:        "delete_item",
			Description: "Delete a work item and all of its descendants. Requires confirm=true, only set it when the user explicitly asked for the deletion.",
			Category:    toolexecutor.CategoryDestructive,
			Mutation:    toolexecutor.MutationDelete,
			Parameters:  []toolexecutor.ToolParameter{itemID},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				if !toolexecutor.HasConfirmation(params) {
					return nil, toolexecutor.NewToolError(CodeExplicitConfirmRequired, "delete_item requires confirm=true")
				}
				ids, err := store.Delete(ctx, stringParam(params, "item_id"))
				if err != nil {
					return nil, toolError(err)
				}
				return DeleteResult{DeletedIDs: ids}, nil
			},
		},
	}
}

// RegisterTools registers every backlog tool with exec
func RegisterTools(exec *toolexecutor.ToolExecutor, store *Store) error {
	for _, def := range Tools(store) {
		if err := exec.RegisterTool(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

func stringParam(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return s
}

// optionalInt reads a whole number that arrived as any JSON numeric type
func optionalInt(params map[string]interface{}, name string) (*int, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return nil, toolexecutor.NewToolError(CodeInvalidItem, "%s must be an integer", name)
	}
	if f != math.Trunc(f) {
		return nil, toolexecutor.NewToolError(CodeInvalidItem, "%s must be an integer", name)
	}
	n := int(f)
	return &n, nil
}

// toolError converts store errors to coded tool errors, passing nil through
func toolError(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := errorCode(err); ok {
		return &toolexecutor.ToolError{Code: code, Message: err.Error()}
	}
	return err
}

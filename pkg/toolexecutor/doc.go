// Package toolexecutor registers and executes the domain tools offered to the model.
//
// Invariants:
// - Tool names are unique.
// - Parameters are schema-validated before execution.
// - Destructive tools always accept a boolean "confirm" parameter.
// - Execution never panics or returns a Go error; failures come back as a ToolResult.
//
// Usage:
//
//	exec := toolexecutor.New()
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "get_item",
//		Description: "Fetch one work item",
//		Category: toolexecutor.CategoryRead,
//		Parameters: []toolexecutor.ToolParameter{{Name: "item_id", Type: "string", Description: "item id", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return lookup(params["item_id"]) },
//	})
package toolexecutor

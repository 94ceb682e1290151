package toolexecutor

import (
	"fmt"
	"strings"
)

// ToolCategory classifies a tool by its side effects
type ToolCategory string

const (
	CategoryRead        ToolCategory = "read"
	CategoryWrite       ToolCategory = "write"
	CategoryDestructive ToolCategory = "destructive"
)

// MutationKind describes what a successful call does to the item it targets
type MutationKind string

const (
	MutationNone   MutationKind = "none"
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// ConfirmParam is the flag a destructive call must carry to pass the write barrier
const ConfirmParam = "confirm"

// AllCategories returns all valid tool categories
func AllCategories() []ToolCategory {
	return []ToolCategory{
		CategoryRead,
		CategoryWrite,
		CategoryDestructive,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

func validMutation(m MutationKind) bool {
	switch m {
	case MutationNone, MutationCreate, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// IsMutating reports whether calls of this kind change the item tree
func (m MutationKind) IsMutating() bool {
	return m == MutationCreate || m == MutationUpdate || m == MutationDelete
}

// IsDestructive reports whether the named tool is registered as destructive
func (te *ToolExecutor) IsDestructive(name string) bool {
	tool := te.GetTool(name)
	return tool != nil && tool.Category == CategoryDestructive
}

// HasConfirmation reports whether params carry an explicit confirm=true
func HasConfirmation(params map[string]interface{}) bool {
	v, ok := params[ConfirmParam].(bool)
	return ok && v
}

func withConfirmParam(params []ToolParameter) ([]ToolParameter, error) {
	for _, p := range params {
		if p.Name == ConfirmParam {
			if p.Type != "boolean" {
				return nil, fmt.Errorf("parameter %s must be boolean", ConfirmParam)
			}
			return params, nil
		}
	}
	out := append([]ToolParameter(nil), params...)
	return append(out, ToolParameter{
		Name:        ConfirmParam,
		Type:        "boolean",
		Description: "Must be true to perform this destructive operation",
	}), nil
}

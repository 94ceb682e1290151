package backlog

import "errors"

// Error codes reported to the model by the backlog tools
const (
	CodeItemNotFound            = "item_not_found"
	CodeInvalidHierarchy        = "invalid_hierarchy"
	CodeExplicitConfirmRequired = "explicit_confirm_required"
	CodeInvalidItem             = "invalid_item"
)

var (
	ErrNotFound         = errors.New("item not found")
	ErrInvalidHierarchy = errors.New("invalid hierarchy")
	ErrInvalidItem      = errors.New("invalid item")
)

// errorCode maps store errors onto tool error codes
func errorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeItemNotFound, true
	case errors.Is(err, ErrInvalidHierarchy):
		return CodeInvalidHierarchy, true
	case errors.Is(err, ErrInvalidItem):
		return CodeInvalidItem, true
	}
	return "", false
}

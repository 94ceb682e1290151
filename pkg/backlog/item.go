package backlog

import (
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Kind is the level of an item in the hierarchy
type Kind string

const (
	KindEpic       Kind = "epic"
	KindCapability Kind = "capability"
	KindFeature    Kind = "feature"
	KindUserStory  Kind = "user_story"
	KindUseCase    Kind = "use_case"
)

// Status is the workflow state of an item
type Status string

const (
	StatusDraft      Status = "draft"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

const (
	MinPriority     = 0
	MaxPriority     = 3
	DefaultPriority = 2
)

const idAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

var hierarchy = []Kind{KindEpic, KindCapability, KindFeature, KindUserStory, KindUseCase}

var idPrefixes = map[Kind]string{
	KindEpic:       "EP",
	KindCapability: "CAP",
	KindFeature:    "FEAT",
	KindUserStory:  "US",
	KindUseCase:    "UC",
}

// Kinds returns every kind from root to leaf
func Kinds() []Kind {
	return append([]Kind(nil), hierarchy...)
}

// Statuses returns every status in workflow order
func Statuses() []Status {
	return []Status{StatusDraft, StatusReady, StatusInProgress, StatusDone}
}

// ParseKind accepts kinds case-insensitively, with spaces or dashes for underscores
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_"), "-", "_"))
	_, ok := idPrefixes[k]
	return k, ok
}

// ParseStatus accepts statuses case-insensitively
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Statuses() {
		if st == valid {
			return st, true
		}
	}
	return "", false
}

// ParentKind returns the kind a parent of k must have. Epics have none.
func (k Kind) ParentKind() (Kind, bool) {
	for i, h := range hierarchy {
		if h == k && i > 0 {
			return hierarchy[i-1], true
		}
	}
	return "", false
}

// CanParent reports whether an item of kind k may sit directly under parent
func (k Kind) CanParent(parent Kind) bool {
	want, ok := k.ParentKind()
	return ok && want == parent
}

// Item is one node of the work-item tree
type Item struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    int       `json:"priority"`
	ParentID    string    `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewItem holds the fields accepted on creation
type NewItem struct {
	Kind        Kind
	Title       string
	Description string
	ParentID    string
	Priority    *int
}

// Patch holds the fields an update may change. Nil fields are left alone.
type Patch struct {
	Title       *string
	Description *string
	Status      *Status
	Priority    *int
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil
}

// Filter narrows List results. A non-nil empty ParentID selects root items.
type Filter struct {
	ParentID *string
	Kind     Kind
}

func newID(kind Kind) (string, error) {
	suffix, err := gonanoid.Generate(idAlphabet, 8)
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return idPrefixes[kind] + "-" + suffix, nil
}

func validatePriority(p int) error {
	if p < MinPriority || p > MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidItem, MinPriority, MaxPriority)
	}
	return nil
}

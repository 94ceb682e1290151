package backlog

import (
	"context"
	"fmt"

	"github.com/harun/backlogpilot/pkg/toolexecutor"
)

// Verify re-reads the affected items and reports whether a mutation took
// effect: created or updated items must exist, deleted items must not.
func (s *Store) Verify(ctx context.Context, mutation toolexecutor.MutationKind, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("no item ids to verify for %s", mutation)
	}
	for _, id := range ids {
		exists, err := s.Exists(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to re-read %s: %w", id, err)
		}
		switch mutation {
		case toolexecutor.MutationCreate, toolexecutor.MutationUpdate:
			if !exists {
				return fmt.Errorf("%w: %s is missing after %s", ErrNotFound, id, mutation)
			}
		case toolexecutor.MutationDelete:
			if exists {
				return fmt.Errorf("item %s still exists after delete", id)
			}
		}
	}
	return nil
}

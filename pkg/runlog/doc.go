// Package runlog persists agent run events as JSONL, one file per run.
//
// Invariants:
// - Run ids are validated before they are used as file names.
// - Appends to one run are serialized; a failed append never fails the run.
//
// Usage:
//
//	store, _ := runlog.New("")
//	ctx := tracing.NewRunContext(context.Background(), "")
//	store.Record(ctx, "plan", map[string]interface{}{"iteration": 1})
//	events, _ := store.Load(ctx, tracing.GetRunID(ctx))
package runlog

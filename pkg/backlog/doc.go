// Package backlog stores the work-item tree and exposes it as agent tools.
//
// Items form a strict hierarchy: epic > capability > feature > user_story > use_case.
// Every non-epic item has a parent of the kind directly above it.
//
// Usage:
//
//	store, _ := backlog.NewStore(backlog.Config{Path: "backlog.db", Logger: logger})
//	exec := toolexecutor.New()
//	_ = backlog.RegisterTools(exec, store)
package backlog

// Package transcript holds the canonical conversation model used by the agent loop
// and the preflight checks run on it before every dispatch.
//
// Invariants:
// - Normalize never fails; malformed upstream turns degrade to their closest valid form.
// - Validate returns a sequence where every tool turn answers a pending call of the
//   assistant turn that governs it.
// - EnsureComplete rejects sequences whose assistant tool calls are left unanswered.
//
// Usage:
//
//	turns := transcript.Normalize(history)
//	turns = transcript.Validate(turns, logger)
//	if err := transcript.EnsureComplete(turns); err != nil {
//		return err
//	}
package transcript

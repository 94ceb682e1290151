// Package dispatch sends transcripts to an ordered list of provider candidates.
//
// Invariants:
// - Every attempt first takes a token from the candidate's shared bucket.
// - Rate limited attempts are retried with backoff up to the retry budget.
// - Quota exhaustion moves to the next candidate without retrying.
// - While an ExchangeState is mid tool exchange, only the pinned candidate is tried.
//
// Usage:
//
//	d, _ := dispatch.New(dispatch.Config{MaxRetries: 3, Limiter: ratelimit.NewRegistry()}, candidates...)
//	var state dispatch.ExchangeState
//	reply, err := d.Invoke(ctx, req, &state)
package dispatch

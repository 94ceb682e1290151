package dispatch

// ExchangeState tracks whether a run is in the middle of a tool exchange and
// which candidate opened it. The zero value is an idle state.
type ExchangeState struct {
	InToolExchange bool   `json:"in_tool_exchange"`
	Provider       string `json:"provider,omitempty"`
}

// Pinned returns the candidate name the run is pinned to, if any.
func (s *ExchangeState) Pinned() (string, bool) {
	if s == nil || !s.InToolExchange {
		return "", false
	}
	return s.Provider, true
}

// Observe updates the state from an assistant turn returned by provider.
// It reports whether the state changed.
func (s *ExchangeState) Observe(provider string, hasToolCalls bool) bool {
	if s == nil {
		return false
	}
	if hasToolCalls {
		changed := !s.InToolExchange || s.Provider != provider
		s.InToolExchange = true
		s.Provider = provider
		return changed
	}
	changed := s.InToolExchange
	s.InToolExchange = false
	s.Provider = ""
	return changed
}

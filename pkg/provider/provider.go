// Package provider adapts chat-completion backends to the canonical transcript.
//
// Invariants:
// - Adapters return tool calls in their raw wire shape; normalization happens in transcript.
// - Every backend failure leaves the adapter as a *Error with a classified Kind.
package provider

import (
	"context"
	"fmt"

	"github.com/harun/backlogpilot/pkg/transcript"
)

// LLMProvider is an interface for chat-completion backends
type LLMProvider interface {
	// Call makes a chat-completion call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the backend kind, e.g. "openai"
	Provider() string
}

// ToolSchema describes a tool offered to the model
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// LLMRequest contains the request parameters for a call
type LLMRequest struct {
	Model       string
	Turns       []transcript.Turn
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// LLMResponse is the assistant turn as returned by the backend
type LLMResponse struct {
	Content   string
	ToolCalls []transcript.RawToolCall
	Usage     *TokenUsage
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Profile holds the credentials and endpoint of one backend
type Profile struct {
	ID      string
	Kind    string // "openai", "anthropic"
	APIKey  string
	BaseURL string
}

// ProviderFactory creates LLM providers
type ProviderFactory struct{}

// NewProvider creates a new LLM provider based on a profile
func (f *ProviderFactory) NewProvider(profile Profile) (LLMProvider, error) {
	switch profile.Kind {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Kind)
	}
}

// systemPrompt joins all system turns
func systemPrompt(turns []transcript.Turn) string {
	prompt := ""
	for _, t := range turns {
		if t.Role != transcript.RoleSystem || t.Content == "" {
			continue
		}
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += t.Content
	}
	return prompt
}

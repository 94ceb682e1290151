package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProviderKind validates a provider kind
func (v *Validator) ValidateProviderKind(kind string) error {
	switch kind {
	case KindOpenAI, KindAnthropic:
		return nil
	default:
		return fmt.Errorf("invalid provider kind: %q (must be one of: %s, %s)", kind, KindOpenAI, KindAnthropic)
	}
}

// ValidateAPIKey validates an API key format. Keys for custom base URLs are
// only checked for presence.
func (v *Validator) ValidateAPIKey(key, kind, baseURL string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", kind)
	}
	if baseURL != "" {
		return nil
	}

	switch kind {
	case KindAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case KindOpenAI:
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateBaseURL validates an optional endpoint override
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base_url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base_url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base_url %q: host is required", raw)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSampleRatio validates the trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample_ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateToolPolicy rejects empty names and names both allowed and denied
func (v *Validator) ValidateToolPolicy(policy ToolPolicyConfig) error {
	allowed := make(map[string]bool, len(policy.Allow))
	for _, name := range policy.Allow {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("tool policy allow list contains an empty name")
		}
		allowed[name] = true
	}
	for _, name := range policy.Deny {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("tool policy deny list contains an empty name")
		}
		if name != "*" && allowed[name] {
			return fmt.Errorf("tool %s is both allowed and denied", name)
		}
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, p := range cfg.Providers {
		if err := v.ValidateProviderKind(p.Kind); err != nil {
			errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
			continue
		}
		if err := v.ValidateAPIKey(p.APIKey, p.Kind, p.BaseURL); err != nil {
			errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
		}
		if err := v.ValidateBaseURL(p.BaseURL); err != nil {
			errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.ID, err))
		}
	}

	if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
		errors = append(errors, fmt.Errorf("agent: %w", err))
	}
	if cfg.Agent.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
			errors = append(errors, fmt.Errorf("agent: %w", err))
		}
	}
	if err := v.ValidateToolPolicy(cfg.Agent.Tools); err != nil {
		errors = append(errors, fmt.Errorf("agent: %w", err))
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateSampleRatio(cfg.Telemetry.SampleRatio); err != nil {
		errors = append(errors, fmt.Errorf("telemetry: %w", err))
	}

	return errors
}

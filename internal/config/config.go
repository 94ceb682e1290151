package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider kinds
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
)

// Config represents the main backlogpilot configuration
type Config struct {
	// Providers in failover order, lowest priority value first
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`
	Agent    AgentConfig    `json:"agent" mapstructure:"agent"`
	Store    StoreConfig    `json:"store" mapstructure:"store"`
	RunLog   RunLogConfig   `json:"runlog" mapstructure:"runlog"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig describes one chat-completion backend
type ProviderConfig struct {
	ID       string `json:"id" mapstructure:"id"`
	Kind     string `json:"kind" mapstructure:"kind"` // openai, anthropic
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
	// RatePerSec of 0 disables client-side pacing
	RatePerSec     float64 `json:"rate_per_sec" mapstructure:"rate_per_sec"`
	BucketCapacity int     `json:"bucket_capacity" mapstructure:"bucket_capacity"`
}

// DispatchConfig holds retry and pacing settings
type DispatchConfig struct {
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries"`
	BackoffBase    time.Duration `json:"backoff_base" mapstructure:"backoff_base"`
	BackoffMax     time.Duration `json:"backoff_max" mapstructure:"backoff_max"`
	Jitter         time.Duration `json:"jitter" mapstructure:"jitter"`
	PacingInterval time.Duration `json:"pacing_interval" mapstructure:"pacing_interval"`
}

// AgentConfig holds agent loop settings
type AgentConfig struct {
	Model                  string           `json:"model" mapstructure:"model"`
	SystemPrompt           string           `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature            float64          `json:"temperature" mapstructure:"temperature"`
	MaxTokens              int              `json:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations          int              `json:"max_iterations" mapstructure:"max_iterations"`
	MaxConsecutiveFailures int              `json:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	ToolTimeout            time.Duration    `json:"tool_timeout" mapstructure:"tool_timeout"`
	VerifyRetryDelay       time.Duration    `json:"verify_retry_delay" mapstructure:"verify_retry_delay"`
	Tools                  ToolPolicyConfig `json:"tools" mapstructure:"tools"`
}

// ToolPolicyConfig defines tool access policies
type ToolPolicyConfig struct {
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// StoreConfig locates the work-item database
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// RunLogConfig locates the per-run event files
type RunLogConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TelemetryConfig controls tracing and the metrics endpoint
type TelemetryConfig struct {
	Tracing     bool    `json:"tracing" mapstructure:"tracing"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
	MetricsAddr string  `json:"metrics_addr" mapstructure:"metrics_addr"` // empty disables
}

const defaultSystemPrompt = `You maintain a product backlog organised as epic > capability > feature > user_story > use_case.
Use the tools to inspect and change items. Only delete when the user explicitly asked for it,
and then pass confirm=true. When the objective is met, answer in plain text without calling tools.`

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Providers: []ProviderConfig{},
		Dispatch: DispatchConfig{
			MaxRetries:     3,
			BackoffBase:    500 * time.Millisecond,
			BackoffMax:     30 * time.Second,
			Jitter:         250 * time.Millisecond,
			PacingInterval: 100 * time.Millisecond,
		},
		Agent: AgentConfig{
			Model:                  "gpt-4o-mini",
			SystemPrompt:           defaultSystemPrompt,
			Temperature:            0.2,
			MaxTokens:              4096,
			MaxIterations:          10,
			MaxConsecutiveFailures: 3,
			ToolTimeout:            30 * time.Second,
			VerifyRetryDelay:       200 * time.Millisecond,
			Tools: ToolPolicyConfig{
				Allow: []string{"*"},
				Deny:  []string{},
			},
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Require at least one provider; there is no fallback backend
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured: at least one provider is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider %d: ID is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("provider %s: duplicate ID", p.ID)
		}
		seen[p.ID] = true
		if p.APIKey == "" {
			return fmt.Errorf("provider %s: api_key is required", p.ID)
		}
		if p.Kind != KindOpenAI && p.Kind != KindAnthropic {
			return fmt.Errorf("provider %s: invalid kind %q (must be: openai, anthropic)", p.ID, p.Kind)
		}
		if p.RatePerSec < 0 || p.BucketCapacity < 0 {
			return fmt.Errorf("provider %s: rate limits cannot be negative", p.ID)
		}
		if p.RatePerSec > 0 && p.BucketCapacity < 1 {
			return fmt.Errorf("provider %s: bucket_capacity must be at least 1 when rate_per_sec is set", p.ID)
		}
	}

	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must be >= 0")
	}
	if c.Dispatch.BackoffBase <= 0 || c.Dispatch.BackoffMax <= 0 {
		return fmt.Errorf("dispatch backoff durations must be positive")
	}
	if c.Dispatch.BackoffMax < c.Dispatch.BackoffBase {
		return fmt.Errorf("dispatch.backoff_max must be >= dispatch.backoff_base")
	}
	if c.Dispatch.Jitter < 0 {
		return fmt.Errorf("dispatch.jitter must be >= 0")
	}
	if c.Dispatch.PacingInterval <= 0 {
		return fmt.Errorf("dispatch.pacing_interval must be positive")
	}

	if c.Agent.Model == "" {
		hasModel := true
		for _, p := range c.Providers {
			if p.Model == "" {
				hasModel = false
				break
			}
		}
		if !hasModel {
			return fmt.Errorf("agent.model is required unless every provider sets a model")
		}
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("agent.max_consecutive_failures must be positive")
	}
	if c.Agent.ToolTimeout <= 0 {
		return fmt.Errorf("agent.tool_timeout must be positive")
	}
	if c.Agent.VerifyRetryDelay < 0 {
		return fmt.Errorf("agent.verify_retry_delay must be >= 0")
	}

	return nil
}

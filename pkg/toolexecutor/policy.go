package toolexecutor

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// ToolPolicy defines which tools a run can use
type ToolPolicy struct {
	Allow []string `json:"allow" mapstructure:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny" mapstructure:"deny"`   // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		// No policy means allow all
		return true
	}

	// Check deny list first (overrides allow list)
	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	// If no explicit allow, deny by default
	return false
}

// Validate checks the policy against the registered tools
func (tp *ToolPolicy) Validate(known []string) error {
	if tp == nil {
		return nil
	}

	set := make(map[string]bool, len(known))
	for _, name := range known {
		set[name] = true
	}

	hasAllowWildcard := false
	for _, name := range tp.Allow {
		if name == "*" {
			hasAllowWildcard = true
			continue
		}
		if !set[name] {
			return fmt.Errorf("policy allows unknown tool %q", name)
		}
	}
	for _, name := range tp.Deny {
		if name == "*" {
			if hasAllowWildcard {
				log.Warn().Msg("Policy has both allow and deny wildcards - deny will override allow")
			}
			continue
		}
		if !set[name] {
			return fmt.Errorf("policy denies unknown tool %q", name)
		}
	}

	if len(tp.Allow) == 0 {
		log.Warn().Msg("Policy has empty allow list - all tools will be denied by default")
	}

	return nil
}

// FilterToolsByPolicy filters a list of tools based on a policy
func FilterToolsByPolicy(tools []string, policy *ToolPolicy) []string {
	if policy == nil {
		return tools
	}

	filtered := []string{}
	for _, tool := range tools {
		if policy.IsToolAllowed(tool) {
			filtered = append(filtered, tool)
		}
	}

	return filtered
}

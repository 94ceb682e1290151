package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/backlogpilot/internal/observability"
	"github.com/harun/backlogpilot/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// Generic error codes reported by Execute. Domain tools add their own through ToolError.
const (
	ErrCodeToolNotFound     = "tool_not_found"
	ErrCodeInvalidArguments = "invalid_arguments"
	ErrCodePolicyDenied     = "tool_not_allowed"
	ErrCodeTimeout          = "timeout"
	ErrCodeCancelled        = "cancelled"
	ErrCodeExecutionFailed  = "execution_failed"
)

const (
	defaultTimeout = 30 * time.Second
	maxOutputSize  = 10 * 1024
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Required    bool          `json:"required"`
	Default     interface{}   `json:"default,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Category    ToolCategory    `json:"category"`
	Mutation    MutationKind    `json:"mutation"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution. Returning a
// *ToolError reports a domain failure with its code. ctx is cancelled when the
// call times out; handlers must not apply side effects after that.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolError is a domain failure the model can react to
type ToolError struct {
	Code    string
	Message string
}

func (e *ToolError) Error() string {
	return e.Code + ": " + e.Message
}

// NewToolError creates a ToolError with a formatted message
func NewToolError(code, format string, args ...interface{}) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	RunID      string
	Timeout    time.Duration
	ToolPolicy *ToolPolicy
}

// ToolResult represents the result of a tool execution. Data always holds the
// handler's full value; only Content truncates.
type ToolResult struct {
	Success   bool                   `json:"success"`
	Data      interface{}            `json:"data,omitempty"`
	ErrorCode string                 `json:"error_code,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"-"`
}

// Failure builds a failed result
func Failure(code, message string) ToolResult {
	return ToolResult{Success: false, ErrorCode: code, Error: message}
}

// Content renders the result as the body of a tool-response turn. Data larger
// than maxOutputSize is replaced by a truncated rendering.
func (r ToolResult) Content() string {
	if r.Success {
		if encoded, err := json.Marshal(r.Data); err == nil && len(encoded) > maxOutputSize {
			r.Data = truncateEncoded(encoded)
			r.Truncated = true
		}
	}
	data, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(Failure(ErrCodeExecutionFailed, "unencodable tool result: "+err.Error()))
		return string(fallback)
	}
	return string(data)
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	return &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// RegisterTool registers a new tool. Destructive tools get a boolean confirm
// parameter when they do not declare one.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if def.Category == "" {
		def.Category = CategoryRead
	}
	if def.Mutation == "" {
		def.Mutation = MutationNone
	}
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if def.Category == CategoryDestructive {
		params, err := withConfirmParam(def.Parameters)
		if err != nil {
			return fmt.Errorf("invalid tool definition: %w", err)
		}
		def.Parameters = params
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(buildSchemaMap(def)))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Debug().Str("tool", def.Name).Str("category", string(def.Category)).Msg("Tool registered")

	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names, sorted
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	return tools
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// ParameterSchema returns a fresh JSON Schema object for the tool's parameters
func (te *ToolExecutor) ParameterSchema(name string) (map[string]interface{}, bool) {
	tool := te.GetTool(name)
	if tool == nil {
		return nil, false
	}
	return buildSchemaMap(*tool), true
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()

	ctx, span := tracing.StartSpan(ctx, "backlogpilot.toolexecutor", "tool.execute", attribute.String("tool", toolName))
	result := te.execute(ctx, toolName, params, execCtx)
	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	duration := time.Since(startTime)
	result.Metadata["duration"] = duration.Milliseconds()

	span.SetAttributes(attribute.Bool("success", result.Success), attribute.String("error_code", result.ErrorCode))
	var spanErr error
	if !result.Success {
		spanErr = errors.New(result.Error)
	}
	tracing.EndSpan(span, spanErr)
	observability.RecordToolExecution(toolName, duration, result.Success)

	return result
}

func (te *ToolExecutor) execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	// Check tool policy if provided
	if execCtx != nil && execCtx.ToolPolicy != nil && !execCtx.ToolPolicy.IsToolAllowed(toolName) {
		log.Warn().
			Str("tool", toolName).
			Str("run_id", execCtx.RunID).
			Msg("Tool execution blocked by policy")
		return Failure(ErrCodePolicyDenied, fmt.Sprintf("tool '%s' is not allowed by policy", toolName))
	}

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	te.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", toolName).Msg("Tool not found")
		return Failure(ErrCodeToolNotFound, fmt.Sprintf("tool not found: %s", toolName))
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(schema, params); err != nil {
		log.Warn().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return Failure(ErrCodeInvalidArguments, fmt.Sprintf("parameter validation failed: %v", err))
	}

	timeout := defaultTimeout
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ContextWithExecContext(ctx, execCtx), timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool %s panicked: %v", toolName, r)
			}
		}()
		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		truncated := oversized(result)
		log.Debug().
			Str("tool", toolName).
			Bool("truncated", truncated).
			Msg("Tool execution completed")
		return ToolResult{Success: true, Data: result, Truncated: truncated}

	case err := <-errChan:
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			log.Debug().Str("tool", toolName).Str("code", toolErr.Code).Msg("Tool reported failure")
			return Failure(toolErr.Code, toolErr.Message)
		}
		log.Error().Str("tool", toolName).Err(err).Msg("Tool execution failed")
		return Failure(ErrCodeExecutionFailed, err.Error())

	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return Failure(ErrCodeCancelled, "tool execution cancelled")
		}
		log.Error().Str("tool", toolName).Dur("timeout", timeout).Msg("Tool execution timeout")
		return Failure(ErrCodeTimeout, fmt.Sprintf("tool execution timeout after %v", timeout))
	}
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if !IsValidCategory(string(def.Category)) {
		return fmt.Errorf("invalid category %s", def.Category)
	}
	if !validMutation(def.Mutation) {
		return fmt.Errorf("invalid mutation kind %s", def.Mutation)
	}
	if def.Category == CategoryRead && def.Mutation.IsMutating() {
		return fmt.Errorf("read tool %s cannot declare mutation %s", def.Name, def.Mutation)
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// buildSchemaMap generates a JSON Schema object from tool parameters
func buildSchemaMap(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}

// oversized reports whether output renders past maxOutputSize
func oversized(output interface{}) bool {
	encoded, err := json.Marshal(output)
	if err != nil || len(encoded) <= maxOutputSize {
		return false
	}

	log.Warn().
		Int("original", len(encoded)).
		Int("truncated", maxOutputSize).
		Msg("Output will be truncated for the model")
	return true
}

// truncateEncoded cuts encoded output at maxOutputSize on a rune boundary
func truncateEncoded(encoded []byte) string {
	if len(encoded) <= maxOutputSize {
		return string(encoded)
	}
	cut := maxOutputSize
	for cut > 0 && !utf8.RuneStart(encoded[cut]) {
		cut--
	}
	return string(encoded[:cut]) + "\n... [output truncated]"
}

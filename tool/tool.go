// Package tool implements the function/tool calling subsystem: schema
// validated tools behind a uniform invocation contract, and the registry the
// execution engine resolves actions against.
package tool

import (
	"context"
	"fmt"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/internal/util"
	"github.com/reagent-ai/reagent/model"
)

// Tool defines the uniform contract for extending the agent with executable
// capabilities. Internal behavior is opaque to the core: a tool receives
// validated arguments plus a constrained ToolContext and returns a result.
//
// Tool implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a proper JSON schema for parameters
//   - Honor ToolContext.Context() on blocking work
//   - Be safe for concurrent use unless registered with WithSerial
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool
	// does. It is provided to the orchestrator model to guide selection.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with structured arguments. The returned value
	// must be a string or JSON-serializable; it becomes the observation
	// payload.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ContentGenerator is the narrow slice of the model router that
// executor-backed tools depend on, kept small so tests can stub it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, prompt string, optFns ...func(o *model.GenerationOptions)) (string, error)
}

// ValidationError represents parameter validation errors with detailed
// information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}

	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

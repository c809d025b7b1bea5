package model

import (
	"context"
	"encoding/json"
)

// Message is a single chat message in provider-neutral form. Providers map
// it onto their own wire format.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant messages only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool messages only
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }

// UserMessage creates a user message.
func UserMessage(content string) Message { return Message{Role: "user", Content: content} }

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message { return Message{Role: "assistant", Content: content} }

// ToolMessage creates a tool result message correlated to a tool call.
func ToolMessage(content, toolCallID string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: toolCallID}
}

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider
// branching.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"` // JSON object of arguments
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (minimal subset).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// GenerationOptions tune a single generation. Provider defaults apply for
// zero values.
type GenerationOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int64    `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Request captures normalized model input.
type Request struct {
	Messages []Message         `json:"messages"`
	Tools    []ToolDefinition  `json:"tools,omitempty"`
	Options  GenerationOptions `json:"options"`
	Stream   bool              `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a streaming model. For a
// partial chunk, Content holds only the delta; the final chunk carries the
// accumulated content, any tool calls and the finish reason.
type Response struct {
	Partial      bool        `json:"partial"`
	Content      string      `json:"content"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "ollama", "openai", "anthropic", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the router requires from a provider.
// Generate returns a lazy, finite, non-restartable sequence of response
// chunks; implementations close both channels when done and honor ctx
// cancellation by tearing the sequence down early.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// HealthChecker is an optional provider capability used for preflight. The
// router verifies every distinct provider that implements it before a
// session starts, so an unreachable endpoint surfaces before any turn is
// consumed.
type HealthChecker interface {
	Verify(ctx context.Context) error
}

package tool

import (
	"fmt"
	"strings"

	"github.com/reagent-ai/reagent/core"
)

// The coding tools build a generation prompt from their arguments and hand
// it to the executor role. The orchestrator only decides that code work is
// needed; the executor produces the content.

// NewWriteCodeTool returns the tool generating new code for a task.
func NewWriteCodeTool(gen ContentGenerator) *FunctionTool {
	return NewFunctionTool(
		"write_code",
		"Write or modify code for a specific file or task",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": map[string]any{
					"type":        "string",
					"description": "The coding task to perform",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Programming language (go, python, javascript, etc.)",
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Additional context or requirements",
				},
			},
			"required": []string{"task", "language"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			return gen.GenerateContent(toolCtx.Context(), buildWritePrompt(args))
		},
	)
}

// NewExplainCodeTool returns the tool explaining existing code.
func NewExplainCodeTool(gen ContentGenerator) *FunctionTool {
	return NewFunctionTool(
		"explain_code",
		"Explain how code works or analyze existing code",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "The code to explain",
				},
				"focus": map[string]any{
					"type":        "string",
					"description": "Specific aspect to focus on",
				},
			},
			"required": []string{"code"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			return gen.GenerateContent(toolCtx.Context(), buildExplainPrompt(args))
		},
	)
}

// NewDebugCodeTool returns the tool diagnosing and fixing code.
func NewDebugCodeTool(gen ContentGenerator) *FunctionTool {
	return NewFunctionTool(
		"debug_code",
		"Analyze code for bugs and provide fixes",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "The code to debug",
				},
				"error": map[string]any{
					"type":        "string",
					"description": "Error message or observed misbehavior",
				},
			},
			"required": []string{"code"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			return gen.GenerateContent(toolCtx.Context(), buildDebugPrompt(args))
		},
	)
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}

	return ""
}

func buildWritePrompt(args map[string]any) string {
	task := stringArg(args, "task")
	language := stringArg(args, "language")
	if language == "" {
		language = "go"
	}

	var b strings.Builder
	fmt.Fprintf(&b,
		"You are an expert %s developer. Write clean, efficient code for the following task:\n\nTask: %s\n",
		language, task)

	if context := stringArg(args, "context"); context != "" {
		fmt.Fprintf(&b, "\nContext: %s\n", context)
	}

	b.WriteString("\nProvide well-commented code with best practices. Include:\n" +
		"- Clear function/variable names\n" +
		"- Error handling where appropriate\n" +
		"- Brief inline comments for complex logic\n")

	return b.String()
}

func buildExplainPrompt(args map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Explain the following code in detail:\n\n```\n%s\n```\n\n", stringArg(args, "code"))

	if focus := stringArg(args, "focus"); focus != "" {
		fmt.Fprintf(&b, "Focus specifically on: %s\n\n", focus)
	}

	b.WriteString("Cover what the code does, how it works, and any notable patterns or pitfalls.")

	return b.String()
}

func buildDebugPrompt(args map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Debug the following code and identify any issues:\n\n```\n%s\n```\n\n", stringArg(args, "code"))

	if errMsg := stringArg(args, "error"); errMsg != "" {
		fmt.Fprintf(&b, "Error message: %s\n\n", errMsg)
	}

	b.WriteString("Please:\n" +
		"1. Identify the bug(s) or issue(s)\n" +
		"2. Explain why the problem occurs\n" +
		"3. Provide a corrected version of the code\n" +
		"4. Suggest any additional improvements")

	return b.String()
}

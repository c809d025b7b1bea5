package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reagent-ai/reagent/internal/testutil"
	"github.com/reagent-ai/reagent/model"
)

// stubGenerator captures the prompt and returns canned content.
type stubGenerator struct {
	content string
	err     error
	prompt  string
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string, _ ...func(o *model.GenerationOptions)) (string, error) {
	s.prompt = prompt
	return s.content, s.err
}

func TestWriteCodeTool(t *testing.T) {
	gen := &stubGenerator{content: "package main"}
	tc := testutil.NewToolContext(t, nil)

	result, err := NewWriteCodeTool(gen).Call(tc, map[string]any{
		"task":     "hello world",
		"language": "go",
		"context":  "single file",
	})
	require.NoError(t, err)
	assert.Equal(t, "package main", result)

	assert.Contains(t, gen.prompt, "expert go developer")
	assert.Contains(t, gen.prompt, "Task: hello world")
	assert.Contains(t, gen.prompt, "Context: single file")
}

func TestWriteCodeToolRequiresLanguage(t *testing.T) {
	gen := &stubGenerator{content: "x"}
	tc := testutil.NewToolContext(t, nil)

	_, err := NewWriteCodeTool(gen).Call(tc, map[string]any{"task": "hello"})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestExplainCodeTool(t *testing.T) {
	gen := &stubGenerator{content: "it prints"}
	tc := testutil.NewToolContext(t, nil)

	result, err := NewExplainCodeTool(gen).Call(tc, map[string]any{
		"code":  "fmt.Println(1)",
		"focus": "output",
	})
	require.NoError(t, err)
	assert.Equal(t, "it prints", result)
	assert.Contains(t, gen.prompt, "fmt.Println(1)")
	assert.Contains(t, gen.prompt, "Focus specifically on: output")
}

func TestDebugCodeTool(t *testing.T) {
	gen := &stubGenerator{content: "off by one"}
	tc := testutil.NewToolContext(t, nil)

	result, err := NewDebugCodeTool(gen).Call(tc, map[string]any{
		"code":  "for i := 0; i <= n; i++ {}",
		"error": "index out of range",
	})
	require.NoError(t, err)
	assert.Equal(t, "off by one", result)
	assert.Contains(t, gen.prompt, "Error message: index out of range")
}

func TestDelegateToolDirectCallFails(t *testing.T) {
	tc := testutil.NewToolContext(t, nil)

	_, err := NewDelegateTool().Call(tc, map[string]any{"goal": "sub-task"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine routing missing")
}

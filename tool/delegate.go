package tool

import (
	"github.com/reagent-ai/reagent/core"
)

// DelegateToolName is the registered name of the delegation marker.
const DelegateToolName = "delegate_task"

// NewDelegateTool returns the delegation marker tool. It only contributes a
// name and schema to the catalog: the execution engine routes actions naming
// it to the sub-agent spawner, so Call is never reached in normal operation.
// Register it with WithDelegate.
func NewDelegateTool() *FunctionTool {
	return NewFunctionTool(
		DelegateToolName,
		"Delegate a self-contained sub-task to a nested agent and receive its final answer",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"goal": map[string]any{
					"type":        "string",
					"description": "The sub-task for the nested agent to accomplish",
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Findings the nested agent should start from",
				},
			},
			"required": []string{"goal"},
		},
		func(toolCtx *core.ToolContext, _ map[string]any) (any, error) {
			return nil, NewToolError(DelegateToolName,
				"delegation marker invoked directly; engine routing missing", "EXECUTION_ERROR")
		},
	)
}

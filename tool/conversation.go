package tool

import (
	"fmt"
	"strings"

	"github.com/reagent-ai/reagent/core"
)

const defaultAnalysisWindow = 20

// NewAnalyzeHistoryTool returns the tool that answers a query against a
// bounded slice of the session's own history. The segment goes to the
// executor role rather than back into the orchestrator context, so long
// conversations can be inspected without inflating the working prompt.
func NewAnalyzeHistoryTool(gen ContentGenerator) *FunctionTool {
	return NewFunctionTool(
		"analyze_history",
		"Answer a question about the conversation so far by analyzing a recent slice of it",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The question to answer from the conversation history",
				},
				"last_n": map[string]any{
					"type":        "integer",
					"description": "How many recent turns to analyze (default 20)",
				},
			},
			"required": []string{"query"},
		},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			query := stringArg(args, "query")

			lastN := defaultAnalysisWindow
			if n, ok := args["last_n"].(float64); ok && n > 0 {
				lastN = int(n)
			}

			segment := toolCtx.Window(lastN)
			if len(segment) == 0 {
				return "", NewToolError("analyze_history", "no history to analyze", "EXECUTION_ERROR")
			}

			return gen.GenerateContent(toolCtx.Context(), buildAnalysisPrompt(query, segment))
		},
	)
}

func buildAnalysisPrompt(query string, segment []core.Turn) string {
	var b strings.Builder

	b.WriteString("Analyze the following conversation segment to answer the query.\n\n")
	b.WriteString("QUERY: ")
	b.WriteString(query)
	b.WriteString("\n\n=== CONVERSATION SEGMENT ===\n")

	for _, turn := range segment {
		fmt.Fprintf(&b, "\n[Turn %d - %s]\n%s\n-------------------", turn.Ordinal, turn.Role, turn.Content)
	}

	b.WriteString("\n\n=== END SEGMENT ===\n\n")
	b.WriteString("Provide a concise answer to the query based ONLY on the segment above.")

	return b.String()
}

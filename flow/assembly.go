// Package flow contains the per-turn machinery between the loop controller
// and its collaborators: request assembly from bounded history, and the
// parallel execution engine resolving action batches.
package flow

import (
	"fmt"
	"strings"

	"github.com/reagent-ai/reagent/core"
	"github.com/reagent-ai/reagent/model"
)

// DefaultInstruction is the orchestrator system prompt used when the caller
// does not supply one.
const DefaultInstruction = `You are an AI agent that uses tools to accomplish tasks. Follow this pattern:
1. THINK about what you need to do.
2. ACT by calling appropriate tools.
3. OBSERVE the results and continue or provide your final answer.

## Rules
- Respond with your final answer ONLY when the task is complete.
- ALWAYS read the latest tool observation carefully before choosing your next action.
- Prefer delegating large self-contained sub-tasks instead of doing everything in one turn.`

// BuildDecisionRequest assembles the orchestrator request for the next
// turn: the system instruction, the session's goal, and the most recent
// window of turns mapped onto chat roles. The goal is restated explicitly
// when history eviction has pushed the seeding turn out of the window.
func BuildDecisionRequest(
	session *core.Session,
	window int,
	instruction string,
	catalog []model.ToolDefinition,
) model.Request {
	if instruction == "" {
		instruction = DefaultInstruction
	}

	turns := session.Window(window)

	messages := make([]model.Message, 0, len(turns)+2)
	messages = append(messages, model.SystemMessage(instruction))

	if len(turns) == 0 || turns[0].Ordinal != 0 {
		messages = append(messages, model.UserMessage("Goal: "+session.Goal))
	}

	for _, turn := range turns {
		messages = append(messages, turnMessage(turn))
	}

	return model.Request{Messages: messages, Tools: catalog}
}

// turnMessage maps a committed turn onto a chat message. Thoughts and
// proposed actions read back as assistant output; observations return as
// user-role feedback the orchestrator must react to.
func turnMessage(turn core.Turn) model.Message {
	switch turn.Role {
	case core.RoleThought:
		return model.AssistantMessage(turn.Content)
	case core.RoleAction:
		return model.AssistantMessage("Proposed actions:\n" + turn.Content)
	case core.RoleObservation:
		return model.UserMessage(turn.Content)
	default:
		return model.UserMessage(turn.Content)
	}
}

// FormatObservation renders one observation as the content of its history
// turn, in the form fed back to the orchestrator on the next cycle.
func FormatObservation(action core.Action, obs core.Observation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "### Observation (%s)\n", action.ToolName)

	switch obs.Kind {
	case core.ObservationSuccess:
		b.WriteString(obs.Payload)
	case core.ObservationInvalidAction:
		fmt.Fprintf(&b, "INVALID ACTION: %s\nCorrect the tool name or arguments and try again.", obs.Payload)
	case core.ObservationToolError:
		fmt.Fprintf(&b, "TOOL ERROR: %s", obs.Payload)
	case core.ObservationCancelled:
		fmt.Fprintf(&b, "CANCELLED: %s", obs.Payload)
	}

	return b.String()
}

// FormatActionBatch renders the proposed actions of a turn as the content of
// its action turn.
func FormatActionBatch(actions []core.Action) string {
	lines := make([]string, len(actions))
	for i, a := range actions {
		lines[i] = a.String()
	}

	return strings.Join(lines, "\n")
}

// BuildSynthesisPrompt renders the best-effort synthesis request issued when
// the turn budget runs out before a final answer.
func BuildSynthesisPrompt(goal string, observations []string) string {
	var b strings.Builder

	b.WriteString("The task below ran out of reasoning turns. Based on the tool observations gathered so far, provide the most complete answer you can.\n\n")
	fmt.Fprintf(&b, "Task: %s\n\n## Tool Observations:\n", goal)

	for i, obs := range observations {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, obs)
	}

	return b.String()
}

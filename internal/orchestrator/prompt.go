package orchestrator

import (
	"strings"

	"github.com/haasonsaas/dbpilot/internal/tools"
	"github.com/haasonsaas/dbpilot/pkg/models"
)

const promptPreamble = `You are a database assistant with access to a live relational database through tools.

Respond with exactly one JSON object, no surrounding prose:
{"thought": "<your reasoning for this step>", "action": {"name": "<tool name>", "input": "<JSON string for the tool>"} , "finalAnswer": "<answer for the user>"}

Set "action" to null and fill "finalAnswer" when you have enough information to answer.
Use one tool per step. Tool input must match the tool's input schema.`

// buildPrompt renders one model request: preamble, tool specs, the
// conversation so far, the current intent, and this run's scratchpad.
func buildPrompt(intent string, history []models.Message, specs []tools.Spec, scratchpad []string) string {
	var b strings.Builder

	b.WriteString(promptPreamble)
	b.WriteString("\n\nAvailable tools:\n")
	for _, spec := range specs {
		b.WriteString("- ")
		b.WriteString(spec.Name)
		b.WriteString(": ")
		b.WriteString(spec.Description)
		b.WriteString("\n  Input schema: ")
		b.WriteString(spec.InputSchema)
		b.WriteString("\n")
	}

	if transcript := renderTranscript(history); transcript != "" {
		b.WriteString("\nConversation so far:\n")
		b.WriteString(transcript)
	}

	b.WriteString("\nUser request: ")
	b.WriteString(intent)
	b.WriteString("\n")

	if len(scratchpad) > 0 {
		b.WriteString("\nYour work so far this run:\n")
		for _, line := range scratchpad {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nRespond with the next JSON object.")
	return b.String()
}

// renderTranscript labels each persisted message by speaker. Ordering follows
// insertion order, the sole source of truth for replay.
func renderTranscript(history []models.Message) string {
	if len(history) == 0 {
		return ""
	}

	var b strings.Builder
	for _, msg := range history {
		b.WriteString(roleLabel(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func roleLabel(role models.Role) string {
	switch role {
	case models.RoleUser:
		return "User"
	case models.RoleAssistant:
		return "Assistant"
	case models.RoleTool:
		return "Tool"
	case models.RoleSystem:
		return "System"
	default:
		return string(role)
	}
}

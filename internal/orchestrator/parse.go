package orchestrator

import (
	"encoding/json"
	"strings"
)

// modelReply is the structured form of one model response.
type modelReply struct {
	Thought     string
	HasAction   bool
	ActionName  string
	ActionInput string
	FinalAnswer string
}

type rawReply struct {
	Thought     string     `json:"thought"`
	Action      *rawAction `json:"action"`
	FinalAnswer string     `json:"finalAnswer"`
}

type rawAction struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// parseReply decodes a raw model reply, degrading gracefully: strict JSON
// first, then the substring between the first '{' and the last '}', and as a
// last resort the raw text serves as both thought and final answer. Malformed
// output never fails the run.
func parseReply(raw string) *modelReply {
	trimmed := strings.TrimSpace(raw)

	if reply, ok := decodeReply(trimmed); ok {
		return reply
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		if reply, ok := decodeReply(trimmed[start : end+1]); ok {
			return reply
		}
	}

	return &modelReply{Thought: trimmed, FinalAnswer: trimmed}
}

func decodeReply(text string) (*modelReply, bool) {
	var raw rawReply
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, false
	}

	reply := &modelReply{
		Thought:     raw.Thought,
		FinalAnswer: raw.FinalAnswer,
	}
	if raw.Action != nil && raw.Action.Name != "" {
		reply.HasAction = true
		reply.ActionName = raw.Action.Name
		reply.ActionInput = normalizeActionInput(raw.Action.Input)
	}
	return reply, true
}

// normalizeActionInput accepts tool input as either a JSON string or an
// object; objects pass through as their JSON text so tools always receive a
// string.
func normalizeActionInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

package orchestrator

import (
	"time"
)

// EventType identifies the kind of orchestrator event.
type EventType string

const (
	// EventThought is one reasoning step's free-text thought.
	EventThought EventType = "thought"

	// EventAction announces a tool invocation about to happen.
	EventAction EventType = "action"

	// EventObservation reports the outcome of one tool invocation,
	// successful or not.
	EventObservation EventType = "observation"

	// EventFinal carries the answer and terminates the stream.
	EventFinal EventType = "final"

	// EventError reports a fatal run failure (provider errors). The stream
	// terminates after it; the session owner decides how to surface it.
	EventError EventType = "error"
)

// Event is the unified event model for one orchestrator run.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees within a run
//   - Transient: consumers persist derived messages, never events
type Event struct {
	// Type identifies the kind of event.
	Type EventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run.
	Sequence uint64 `json:"seq"`

	// Iteration is the 0-based loop iteration that produced the event.
	Iteration int `json:"iteration"`

	// Exactly one payload is non-nil for a given Type.
	Thought     *ThoughtPayload     `json:"thought,omitempty"`
	Action      *ActionPayload      `json:"action,omitempty"`
	Observation *ObservationPayload `json:"observation,omitempty"`
	Final       *FinalPayload       `json:"final,omitempty"`
	Error       *ErrorPayload       `json:"error,omitempty"`
}

// ThoughtPayload is the model's reasoning text for one step.
type ThoughtPayload struct {
	Text string `json:"text"`
}

// ActionPayload names the tool being invoked and its raw input string.
type ActionPayload struct {
	Tool  string `json:"tool"`
	Input string `json:"input"`
}

// ObservationPayload is the textual outcome of a tool invocation. ResultKind
// and ResultData are set only on success; unknown-tool and failure
// observations carry text alone.
type ObservationPayload struct {
	Tool       string `json:"tool"`
	Output     string `json:"output"`
	ResultKind string `json:"result_kind,omitempty"`
	ResultData any    `json:"result_data,omitempty"`
}

// FinalPayload is the answer delivered to the user.
type FinalPayload struct {
	Text string `json:"text"`
}

// ErrorPayload standardizes fatal run errors.
type ErrorPayload struct {
	// Message is the error description.
	Message string `json:"message"`

	// Err is the original error (runtime only, not serialized).
	Err error `json:"-"`
}

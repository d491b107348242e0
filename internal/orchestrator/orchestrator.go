// Package orchestrator runs the bounded reasoning loop: prompt the model,
// parse its reply, dispatch tool calls, feed observations back, and stream
// every step as events until a final answer or the step budget.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/dbpilot/internal/tools"
	"github.com/haasonsaas/dbpilot/pkg/models"
)

const (
	// maxIterations bounds one run to a fixed step budget.
	maxIterations = 10

	// eventBufferSize bounds the run's outbound event channel.
	eventBufferSize = 16

	// noThoughtText stands in when the model omits a thought.
	noThoughtText = "(no thought provided)"

	// exhaustedAnswer terminates runs that ran out of budget or were
	// cancelled before finishing. Both outcomes share this text, so event
	// consumers cannot tell them apart from the stream alone.
	exhaustedAnswer = "I could not complete the request within the allotted steps. Please refine the question or try again."
)

// Provider is the model collaborator: one complete prompt in, one complete
// text reply out. No token-level streaming is assumed.
type Provider interface {
	// Name identifies the provider for logging.
	Name() string

	// Complete sends the prompt and returns the full reply text.
	Complete(ctx context.Context, prompt string) (string, error)
}

// Orchestrator drives reasoning runs. It is stateless across runs; each Run
// call owns its scratchpad and its in-memory history copy.
type Orchestrator struct {
	provider Provider
	registry *tools.Registry
	logger   *slog.Logger
}

// New creates an orchestrator over the given provider and tool registry.
func New(provider Provider, registry *tools.Registry, logger *slog.Logger) *Orchestrator {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		provider: provider,
		registry: registry,
		logger:   logger,
	}
}

// Run executes one reasoning loop and streams events through the returned
// channel. The channel closes when the run terminates; a run is finite and
// not restartable.
//
// Cancellation is cooperative: the context is checked only at the top of each
// iteration, so an in-flight model or tool call finishes before cancellation
// takes effect. A run cancelled before its first iteration emits exactly one
// final event and never calls the model.
func (o *Orchestrator) Run(ctx context.Context, sessionID, intent string, history []models.Message, tctx *tools.Context) <-chan Event {
	events := make(chan Event, eventBufferSize)

	go func() {
		defer close(events)

		log := o.logger.With("session_id", sessionID)
		specs := o.registry.Specs()

		// Run-local copies: the scratchpad feeds the prompt, and tool
		// observations are appended to history for later iterations.
		scratchpad := make([]string, 0, maxIterations*3)
		history = append([]models.Message(nil), history...)

		var seq uint64
		emit := func(iteration int, ev Event) {
			ev.Time = time.Now()
			ev.Sequence = seq
			ev.Iteration = iteration
			seq++
			events <- ev
		}

		for iteration := 0; iteration < maxIterations; iteration++ {
			select {
			case <-ctx.Done():
				log.Info("run cancelled", "iteration", iteration)
				emit(iteration, Event{Type: EventFinal, Final: &FinalPayload{Text: exhaustedAnswer}})
				return
			default:
			}

			prompt := buildPrompt(intent, history, specs, scratchpad)

			log.Debug("model call", "provider", o.provider.Name(), "iteration", iteration)
			raw, err := o.provider.Complete(ctx, prompt)
			if err != nil {
				log.Error("model call failed", "error", err, "iteration", iteration)
				emit(iteration, Event{Type: EventError, Error: &ErrorPayload{
					Message: fmt.Sprintf("model call failed: %v", err),
					Err:     err,
				}})
				return
			}

			reply := parseReply(raw)

			thought := reply.Thought
			if thought == "" {
				thought = noThoughtText
			}
			emit(iteration, Event{Type: EventThought, Thought: &ThoughtPayload{Text: thought}})
			scratchpad = append(scratchpad, "Thought: "+thought)

			if reply.HasAction {
				observation, ok := o.invokeTool(ctx, log, reply.ActionName, reply.ActionInput, tctx, func(ev Event) {
					emit(iteration, ev)
				})
				scratchpad = append(scratchpad, "Observation: "+observation.Output)
				if ok {
					history = append(history, models.Message{
						SessionID: sessionID,
						Role:      models.RoleTool,
						Content:   observation.Output,
						Metadata: map[string]any{
							"type": models.MessageTypeToolResult,
							"tool": observation.Tool,
						},
					})
				}
				continue
			}

			if reply.FinalAnswer != "" {
				scratchpad = append(scratchpad, "Final: "+reply.FinalAnswer)
				emit(iteration, Event{Type: EventFinal, Final: &FinalPayload{Text: reply.FinalAnswer}})
				return
			}

			// Neither an action nor a final answer; ask again.
		}

		log.Info("step budget exhausted")
		emit(maxIterations, Event{Type: EventFinal, Final: &FinalPayload{Text: exhaustedAnswer}})
	}()

	return events
}

// invokeTool dispatches one action, emitting the action and observation
// events. It returns the observation and whether the tool ran successfully;
// unknown tools and tool failures are recoverable, never fatal to the run.
func (o *Orchestrator) invokeTool(ctx context.Context, log *slog.Logger, name, input string, tctx *tools.Context, emit func(Event)) (*ObservationPayload, bool) {
	tool, registered := o.registry.Get(name)
	if !registered {
		log.Warn("unknown tool requested", "tool", name)
		obs := &ObservationPayload{
			Tool:   name,
			Output: fmt.Sprintf("Tool %q is not available.", name),
		}
		emit(Event{Type: EventObservation, Observation: obs})
		return obs, false
	}

	emit(Event{Type: EventAction, Action: &ActionPayload{Tool: name, Input: input}})

	log.Debug("tool call", "tool", name)
	res, err := tool.Run(ctx, input, tctx)
	if err != nil {
		log.Warn("tool call failed", "tool", name, "error", err)
		obs := &ObservationPayload{
			Tool:   name,
			Output: fmt.Sprintf("Tool failed: %s", err.Error()),
		}
		emit(Event{Type: EventObservation, Observation: obs})
		return obs, false
	}

	obs := &ObservationPayload{
		Tool:       name,
		Output:     formatObservation(res),
		ResultKind: res.Kind,
		ResultData: res.Data,
	}
	emit(Event{Type: EventObservation, Observation: obs})
	return obs, true
}

// formatObservation combines a result's summary with its data rendered as
// pretty JSON.
func formatObservation(res *tools.Result) string {
	data := res.Data
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		encoded = []byte("{}")
	}
	if res.Summary == "" {
		return string(encoded)
	}
	return res.Summary + "\n" + string(encoded)
}

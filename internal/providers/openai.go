// Package providers implements the model collaborators behind the
// orchestrator's Provider interface. Each provider sends one complete prompt
// and returns the full reply text; no token-level streaming is exposed.
package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/dbpilot/internal/observability"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIProvider completes prompts through OpenAI's chat completion API.
// Safe for concurrent use.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	metrics *observability.Metrics
}

// NewOpenAIProvider creates an OpenAI provider. An empty API key defers the
// failure to the first Complete call.
func NewOpenAIProvider(apiKey, model string, metrics *observability.Metrics) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	p := &OpenAIProvider{model: model, metrics: metrics}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

// Name returns the provider identifier used for logging and metrics.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends the prompt as a single user message and returns the full
// reply text.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if p.client == nil {
		return "", errors.New("openai: API key not configured")
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		p.metrics.LLMRequest(p.Name(), "error", time.Since(start).Seconds())
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	p.metrics.LLMRequest(p.Name(), "success", time.Since(start).Seconds())

	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

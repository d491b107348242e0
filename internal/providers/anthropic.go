package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/dbpilot/internal/observability"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = "claude-sonnet-4-5"

const anthropicMaxTokens = 4096

// AnthropicProvider completes prompts through the Anthropic Messages API.
// Safe for concurrent use.
type AnthropicProvider struct {
	client     anthropic.Client
	configured bool
	model      string
	metrics    *observability.Metrics
}

// NewAnthropicProvider creates an Anthropic provider. An empty API key defers
// the failure to the first Complete call.
func NewAnthropicProvider(apiKey, model string, metrics *observability.Metrics) *AnthropicProvider {
	if model == "" {
		model = DefaultAnthropicModel
	}
	p := &AnthropicProvider{model: model, metrics: metrics}
	if apiKey != "" {
		p.client = anthropic.NewClient(option.WithAPIKey(apiKey))
		p.configured = true
	}
	return p
}

// Name returns the provider identifier used for logging and metrics.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete sends the prompt as a single user message and returns the
// concatenated text blocks of the reply.
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if !p.configured {
		return "", errors.New("anthropic: API key not configured")
	}

	start := time.Now()
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		p.metrics.LLMRequest(p.Name(), "error", time.Since(start).Seconds())
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}
	p.metrics.LLMRequest(p.Name(), "success", time.Since(start).Seconds())

	var b strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("anthropic: empty response")
	}
	return b.String(), nil
}

package providers

import (
	"fmt"

	"github.com/haasonsaas/dbpilot/internal/observability"
	"github.com/haasonsaas/dbpilot/internal/orchestrator"
)

// New builds a provider by name. Supported names: "openai", "anthropic".
func New(name, apiKey, model string, metrics *observability.Metrics) (orchestrator.Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(apiKey, model, metrics), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey, model, metrics), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
)

// NewClient builds the tiered oracle from configuration: one provider client
// per tier behind an LLMRouter.
func NewClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger, metrics *observability.Metrics) (schemas.LLMClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fast, err := newTierClient(ctx, cfg, cfg.DefaultFastModel, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}
	powerful, err := newTierClient(ctx, cfg, cfg.DefaultPowerfulModel, logger)
	if err != nil {
		_ = fast.Close()
		return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
	}

	return NewLLMRouter(logger, fast, powerful,
		WithRequestsPerMinute(cfg.RequestsPerMinute),
		WithMetrics(metrics),
	)
}

// resolveModel looks name up in the models map. Unknown names are treated as
// a Gemini model id using the router level API key.
func resolveModel(cfg config.LLMRouterConfig, name string) (config.LLMModelConfig, error) {
	if name == "" {
		return config.LLMModelConfig{}, fmt.Errorf("no model configured")
	}
	m, ok := cfg.Models[name]
	if !ok {
		m = config.LLMModelConfig{Provider: config.ProviderGemini, Model: name}
	}
	if m.Model == "" {
		m.Model = name
	}
	if m.Provider == "" {
		m.Provider = config.ProviderGemini
	}
	if m.APIKey == "" {
		m.APIKey = cfg.APIKey
	}
	return m, nil
}

func newTierClient(ctx context.Context, cfg config.LLMRouterConfig, name string, logger *zap.Logger) (schemas.LLMClient, error) {
	m, err := resolveModel(cfg, name)
	if err != nil {
		return nil, err
	}
	switch m.Provider {
	case config.ProviderGemini:
		return NewGoogleClient(ctx, m, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", m.Provider, config.ProviderGemini)
	}
}

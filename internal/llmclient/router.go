package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
)

// LLMRouter implements the LLMClient interface and routes requests by tier.
// A shared limiter caps the call rate across tiers.
type LLMRouter struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
	limiter *rate.Limiter
	metrics *observability.Metrics
}

// RouterOption configures an LLMRouter.
type RouterOption func(*LLMRouter)

// WithRequestsPerMinute limits calls across all tiers. Zero disables limiting.
func WithRequestsPerMinute(rpm int) RouterOption {
	return func(r *LLMRouter) {
		if rpm > 0 {
			r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
		}
	}
}

// WithMetrics records every routed call.
func WithMetrics(m *observability.Metrics) RouterOption {
	return func(r *LLMRouter) { r.metrics = m }
}

// NewLLMRouter creates a new router with the specified clients for each tier.
func NewLLMRouter(logger *zap.Logger, fastClient, powerfulClient schemas.LLMClient, opts ...RouterOption) (*LLMRouter, error) {
	if fastClient == nil || powerfulClient == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	r := &LLMRouter{
		logger: logger.Named("llm_router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Generate selects the appropriate client based on the request's Tier.
func (r *LLMRouter) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful // Default to the powerful tier if unspecified.
	}

	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	start := time.Now()
	out, err := client.Generate(ctx, req)
	r.metrics.RecordOracleCall(string(tier), time.Since(start), err)
	return out, err
}

// Close closes every distinct underlying client.
func (r *LLMRouter) Close() error {
	var errs []error
	seen := make(map[schemas.LLMClient]bool)
	for _, c := range r.clients {
		if seen[c] {
			continue
		}
		seen[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

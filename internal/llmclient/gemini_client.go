// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
)

// contentGenerator is the slice of the genai SDK the client depends on.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GoogleClient implements schemas.LLMClient for Google Gemini models through
// the genai SDK. Images in the request are sent inline with the user prompt.
type GoogleClient struct {
	client         *genai.Client
	models         contentGenerator
	logger         *zap.Logger
	config         config.LLMModelConfig
	backoffFactory func() backoff.BackOff
}

// NewGoogleClient initializes the SDK client for one model.
func NewGoogleClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google/Gemini API Key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	c := &GoogleClient{
		client: sdk,
		models: sdk.Models,
		logger: logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
		config: cfg,
	}
	c.backoffFactory = c.defaultBackoff
	return c, nil
}

func (c *GoogleClient) defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	if c.config.MaxRetries > 0 {
		return backoff.WithMaxRetries(b, uint64(c.config.MaxRetries))
	}
	return b
}

// Generate sends the prompts to Gemini and returns the generated text, retrying
// transient failures. The configured api_timeout bounds each attempt.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	contents := c.buildContents(req)
	genCfg := c.buildConfig(req)

	var text string
	operation := func() error {
		attemptCtx := ctx
		if c.config.APITimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.config.APITimeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := c.models.GenerateContent(attemptCtx, c.config.Model, contents, genCfg)
		duration := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !isTransient(err) {
				return backoff.Permanent(fmt.Errorf("gemini API error: %w", err))
			}
			c.logger.Warn("Transient error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("gemini API error: %w", err)
		}

		out, err := c.extractText(resp)
		if err != nil {
			return err
		}

		fields := []zap.Field{zap.Duration("duration", duration)}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount),
				zap.Int32("total_tokens", u.TotalTokenCount),
			)
		}
		c.logger.Info("LLM generation complete (Gemini)", fields...)
		text = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return "", err
	}
	return text, nil
}

func (c *GoogleClient) extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", backoff.Permanent(fmt.Errorf("gemini API blocked the prompt (Reason: %s)", resp.PromptFeedback.BlockReason))
		}
		return "", backoff.Permanent(errors.New("gemini API returned no candidates"))
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		switch candidate.FinishReason {
		case genai.FinishReasonSafety, genai.FinishReasonBlocklist, genai.FinishReasonProhibitedContent:
			return "", backoff.Permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
		}
		return "", fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
	}

	var sb strings.Builder
	for _, p := range candidate.Content.Parts {
		if p != nil && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}

func (c *GoogleClient) buildContents(req schemas.GenerationRequest) []*genai.Content {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		mime := img.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, mime))
	}
	parts = append(parts, genai.NewPartFromText(req.UserPrompt))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func (c *GoogleClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temp := c.config.Temperature
	if req.Options.Temperature > 0 {
		temp = float32(req.Options.Temperature)
	}
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temp),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if c.config.TopP > 0 {
		cfg.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(c.config.TopK))
	}
	maxTokens := c.config.MaxTokens
	if req.Options.MaxTokens > 0 {
		maxTokens = req.Options.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if req.Options.ForceJSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// isTransient reports whether an SDK error is worth retrying.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Transport errors and per-attempt timeouts.
	return true
}

// Close releases the client. The genai SDK holds no resources that need
// explicit release.
func (c *GoogleClient) Close() error {
	return nil
}

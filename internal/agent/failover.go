package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/llm"
	"github.com/soyeahso/helpdesk/internal/logging"
)

// FailoverClient wraps an LLM registry to try fallback models on failure.
type FailoverClient struct {
	registry  *llm.Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a client that tries the primary model reference
// first, then falls back through the list on retryable errors (401, 429, 5xx).
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Name identifies the wrapper in logs.
func (f *FailoverClient) Name() string { return "failover:" + f.primary }

// Complete tries the primary model, falling back on retryable errors.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	refs := append([]string{f.primary}, f.fallbacks...)

	var lastErr error
	for _, ref := range refs {
		client, model, err := f.registry.Resolve(ref)
		if err != nil {
			f.log.Debug().Str("model", ref).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}

		req.Model = model
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}

		if isRetryable(err) {
			f.log.Warn().
				Str("model", ref).
				Err(err).
				Msg("retryable error, trying next provider")
			continue
		}

		// Non-retryable error: stop here
		return nil, err
	}

	if lastErr == nil {
		lastErr = errors.New("no models configured")
	}
	return nil, lastErr
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout")
}

// TierModel is the model capability assigned to one tier.
type TierModel struct {
	Client      llm.Client
	MaxTokens   int
	Temperature *float64
}

// TierModelsFromConfig builds a failover client for every model tier.
func TierModelsFromConfig(registry *llm.Registry, models config.ModelsConfig, log *logging.Logger) map[domain.Tier]TierModel {
	entries := map[domain.Tier]config.ModelEntry{
		domain.TierSimple:  models.Simple,
		domain.TierMedium:  models.Medium,
		domain.TierComplex: models.Complex,
	}
	out := make(map[domain.Tier]TierModel, len(entries))
	for tier, e := range entries {
		if e.Model == "" {
			continue
		}
		out[tier] = TierModel{
			Client:      NewFailoverClient(registry, llm.Ref(e), e.Fallbacks, log.With("tier", string(tier))),
			MaxTokens:   e.MaxTokens,
			Temperature: e.Temperature,
		}
	}
	return out
}

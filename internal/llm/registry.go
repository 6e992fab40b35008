package llm

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/logging"
)

// ProviderError is returned when a model provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another provider might succeed where this one
// failed.
func (e *ProviderError) Retryable() bool {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, 529:
		return true
	}
	return e.Code == 0 && e.Err != nil && !errors.Is(e.Err, errBadResponse)
}

var errBadResponse = errors.New("malformed provider response")

// Registry manages provider clients and resolves model references to clients.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name to a provider.
// e.g., Alias("gpt-4o", "openai") means "gpt-4o" resolves to the "openai" provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the default provider used when no model/provider match is found.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client and bare model name for a model reference.
// References are "provider/model", a provider name, or a model alias.
// Resolution order: explicit provider prefix → provider name → alias → fallback.
func (r *Registry) Resolve(ref string) (Client, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, model, ok := strings.Cut(ref, "/"); ok {
		if c, ok := r.clients[provider]; ok {
			return c, model, nil
		}
		return nil, "", fmt.Errorf("no LLM provider %q for model %q", provider, model)
	}

	if c, ok := r.clients[ref]; ok {
		return c, "", nil
	}

	if provider, ok := r.aliases[ref]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, ref, nil
		}
	}

	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, ref, nil
		}
	}

	return nil, "", fmt.Errorf("no LLM provider for model %q", ref)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ref formats a model entry as a "provider/model" reference.
func Ref(e config.ModelEntry) string {
	if e.Provider == "" {
		return e.Model
	}
	return e.Provider + "/" + e.Model
}

// NewRegistryFromConfig registers a client for every provider that has
// credentials. The first configured of openai, anthropic becomes the
// fallback, and every model named in the tier configuration is aliased to
// its provider.
func NewRegistryFromConfig(cfg *config.Config, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	if p := cfg.Providers.OpenAI; p.APIKey != "" {
		reg.Register("openai", NewOpenAIClient(p.APIKey, p.BaseURL))
	}
	if p := cfg.Providers.Anthropic; p.APIKey != "" {
		reg.Register("anthropic", NewAnthropicClient(p.APIKey, p.BaseURL))
	}
	for _, name := range []string{"openai", "anthropic"} {
		if _, ok := reg.clients[name]; ok {
			reg.SetFallback(name)
			break
		}
	}

	for _, e := range []config.ModelEntry{cfg.Models.Classifier, cfg.Models.Simple, cfg.Models.Medium, cfg.Models.Complex} {
		if e.Provider != "" && e.Model != "" {
			reg.Alias(e.Model, e.Provider)
		}
	}
	return reg
}

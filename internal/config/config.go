package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

func ptr(f float64) *float64 { return &f }

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8088,
			Bind:           "loopback",
			Auth:           ServerAuth{Mode: "token"},
			MaxConcurrency: 4,
		},
		Models: ModelsConfig{
			Classifier:    ModelEntry{Provider: "openai", Model: "gpt-4o-mini", MaxTokens: 300, Temperature: ptr(0.1)},
			Simple:        ModelEntry{Provider: "openai", Model: "gpt-4o-mini", MaxTokens: 500, Temperature: ptr(0.3)},
			Medium:        ModelEntry{Provider: "openai", Model: "gpt-4o-mini", MaxTokens: 1000, Temperature: ptr(0.5)},
			Complex:       ModelEntry{Provider: "openai", Model: "gpt-4o", MaxTokens: 2000, Temperature: ptr(0.7)},
			Embedding:     "text-embedding-3-small",
			EmbeddingDims: 1536,
		},
		Agent: AgentConfig{
			ToolCallHardCeiling:     8,
			ComplexBudget:           5,
			LookupBudget:            2,
			KnowledgeBudget:         3,
			SimpleConfidence:        0.6,
			EscalateBelowConfidence: 0.5,
			ClassifierTimeoutMs:     15000,
			ModelTimeoutMs:          60000,
			ToolTimeoutMs:           10000,
			RunTimeoutMs:            180000,
		},
		RAG: RAGConfig{
			TopK:                3,
			SimilarityThreshold: 0.7,
			Backend:             "sqlite",
			Table:               "knowledge_base",
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "sqlite",
			TTLMinutes: 1440,
			KeyPrefix:  "helpdesk:cache:",
		},
		Storefront: StorefrontConfig{
			Provider:  "mock",
			RateLimit: 5,
			Burst:     10,
		},
		Events: EventsConfig{
			InteractionTopic: "helpdesk.interactions",
			EscalationTopic:  "helpdesk.escalations",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

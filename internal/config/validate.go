package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validBinds      = []string{"loopback", "lan", "custom"}
	validAuthModes  = []string{"token", "password"}
	validProviders  = []string{"openai", "anthropic", "mock"}
	validRAG        = []string{"sqlite", "pgvector"}
	validCache      = []string{"sqlite", "redis"}
	validStorefront = []string{"mock"}
	validLogLevels  = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validLogFormats = []string{"console", "json"}
)

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}

	// Server
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port", "port must be 0-65535, got %d", cfg.Server.Port)
	}
	oneOf("server.bind", cfg.Server.Bind, validBinds)
	if cfg.Server.Bind == "custom" && cfg.Server.CustomBindHost == "" {
		add("server.customBindHost", "required when bind is custom")
	}
	oneOf("server.auth.mode", cfg.Server.Auth.Mode, validAuthModes)
	if cfg.Server.MaxConcurrency < 0 {
		add("server.maxConcurrency", "must be positive, got %d", cfg.Server.MaxConcurrency)
	}

	// Models
	for name, m := range map[string]ModelEntry{
		"models.classifier": cfg.Models.Classifier,
		"models.simple":     cfg.Models.Simple,
		"models.medium":     cfg.Models.Medium,
		"models.complex":    cfg.Models.Complex,
	} {
		oneOf(name+".provider", m.Provider, validProviders)
		if m.Model == "" {
			add(name+".model", "model is required")
		}
		if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2) {
			add(name+".temperature", "must be 0-2, got %v", *m.Temperature)
		}
		for _, fb := range m.Fallbacks {
			provider, model, ok := strings.Cut(fb, "/")
			if !ok || model == "" || !slices.Contains(validProviders, provider) {
				add(name+".fallbacks", "fallback %q must be provider/model", fb)
			}
		}
	}

	// Agent
	a := cfg.Agent
	if a.ToolCallHardCeiling < 1 {
		add("agent.toolCallHardCeiling", "must be at least 1, got %d", a.ToolCallHardCeiling)
	}
	for path, b := range map[string]int{
		"agent.complexBudget":   a.ComplexBudget,
		"agent.lookupBudget":    a.LookupBudget,
		"agent.knowledgeBudget": a.KnowledgeBudget,
	} {
		if b < 0 {
			add(path, "must not be negative, got %d", b)
		}
	}
	if a.SimpleConfidence < 0 || a.SimpleConfidence > 1 {
		add("agent.simpleConfidence", "must be 0-1, got %v", a.SimpleConfidence)
	}
	if a.EscalateBelowConfidence < 0 || a.EscalateBelowConfidence > 1 {
		add("agent.escalateBelowConfidence", "must be 0-1, got %v", a.EscalateBelowConfidence)
	}

	// RAG
	if cfg.RAG.TopK < 1 {
		add("rag.topK", "must be at least 1, got %d", cfg.RAG.TopK)
	}
	if cfg.RAG.SimilarityThreshold < 0 || cfg.RAG.SimilarityThreshold > 1 {
		add("rag.similarityThreshold", "must be 0-1, got %v", cfg.RAG.SimilarityThreshold)
	}
	oneOf("rag.backend", cfg.RAG.Backend, validRAG)
	if cfg.RAG.Backend == "pgvector" && cfg.RAG.PostgresURL == "" {
		add("rag.postgresUrl", "required when backend is pgvector")
	}

	// Cache
	oneOf("cache.backend", cfg.Cache.Backend, validCache)
	if cfg.Cache.Enabled && cfg.Cache.Backend == "redis" && cfg.Cache.RedisAddr == "" {
		add("cache.redisAddr", "required when backend is redis")
	}
	if cfg.Cache.TTLMinutes < 0 {
		add("cache.ttlMinutes", "must not be negative, got %d", cfg.Cache.TTLMinutes)
	}

	// Storefront
	oneOf("storefront.provider", cfg.Storefront.Provider, validStorefront)
	if cfg.Storefront.RateLimit < 0 {
		add("storefront.rateLimit", "must not be negative, got %v", cfg.Storefront.RateLimit)
	}

	// Events
	if cfg.Events.Enabled && len(cfg.Events.Brokers) == 0 {
		add("events.brokers", "at least one broker is required when events are enabled")
	}

	if cfg.Accounting.DailyBudgetUSD < 0 {
		add("accounting.dailyBudgetUsd", "must not be negative, got %v", cfg.Accounting.DailyBudgetUSD)
	}

	// Channels (only if configured)
	if c := cfg.Channels.IMAP; c != nil {
		if c.Host == "" {
			add("channels.imap.host", "host is required")
		}
		if c.Username == "" {
			add("channels.imap.username", "username is required")
		}
		if c.SMTPHost == "" {
			add("channels.imap.smtpHost", "smtpHost is required to send replies")
		}
		if c.Port < 0 || c.Port > 65535 {
			add("channels.imap.port", "port must be 0-65535, got %d", c.Port)
		}
	}
	if g := cfg.Channels.Gmail; g != nil {
		if g.ClientID == "" {
			add("channels.gmail.clientId", "clientId is required")
		}
		if g.RefreshToken == "" {
			add("channels.gmail.refreshToken", "refreshToken is required")
		}
	}

	// Logging
	oneOf("logging.level", cfg.Logging.Level, validLogLevels)
	oneOf("logging.format", cfg.Logging.Format, validLogFormats)

	slices.SortFunc(issues, func(a, b ValidationIssue) int { return strings.Compare(a.Path, b.Path) })
	return issues
}

package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields resolves ${ENV_VAR} references in credentials and
// connection strings.
func expandSensitiveFields(cfg *Config) {
	for _, s := range []*string{
		&cfg.Server.Auth.Token,
		&cfg.Server.Auth.Password,
		&cfg.Providers.OpenAI.APIKey,
		&cfg.Providers.Anthropic.APIKey,
		&cfg.RAG.PostgresURL,
		&cfg.Cache.RedisPassword,
	} {
		*s = expandEnvVars(*s)
	}
	if cfg.Channels.IMAP != nil {
		cfg.Channels.IMAP.Password = expandEnvVars(cfg.Channels.IMAP.Password)
	}
	if g := cfg.Channels.Gmail; g != nil {
		g.ClientSecret = expandEnvVars(g.ClientSecret)
		g.RefreshToken = expandEnvVars(g.RefreshToken)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields the file may have blanked.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = d.Server.Bind
	}
	if cfg.Server.Auth.Mode == "" {
		cfg.Server.Auth.Mode = d.Server.Auth.Mode
	}
	if cfg.Server.MaxConcurrency <= 0 {
		cfg.Server.MaxConcurrency = d.Server.MaxConcurrency
	}
	fillModel(&cfg.Models.Classifier, d.Models.Classifier)
	fillModel(&cfg.Models.Simple, d.Models.Simple)
	fillModel(&cfg.Models.Medium, d.Models.Medium)
	fillModel(&cfg.Models.Complex, d.Models.Complex)
	if cfg.Models.Embedding == "" {
		cfg.Models.Embedding = d.Models.Embedding
	}
	if cfg.Models.EmbeddingDims == 0 {
		cfg.Models.EmbeddingDims = d.Models.EmbeddingDims
	}
	if cfg.Agent.ToolCallHardCeiling <= 0 {
		cfg.Agent.ToolCallHardCeiling = d.Agent.ToolCallHardCeiling
	}
	if cfg.Agent.ClassifierTimeoutMs <= 0 {
		cfg.Agent.ClassifierTimeoutMs = d.Agent.ClassifierTimeoutMs
	}
	if cfg.Agent.ModelTimeoutMs <= 0 {
		cfg.Agent.ModelTimeoutMs = d.Agent.ModelTimeoutMs
	}
	if cfg.Agent.ToolTimeoutMs <= 0 {
		cfg.Agent.ToolTimeoutMs = d.Agent.ToolTimeoutMs
	}
	if cfg.Agent.RunTimeoutMs <= 0 {
		cfg.Agent.RunTimeoutMs = d.Agent.RunTimeoutMs
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = d.RAG.TopK
	}
	if cfg.RAG.SimilarityThreshold == 0 {
		cfg.RAG.SimilarityThreshold = d.RAG.SimilarityThreshold
	}
	if cfg.RAG.Backend == "" {
		cfg.RAG.Backend = d.RAG.Backend
	}
	if cfg.RAG.Table == "" {
		cfg.RAG.Table = d.RAG.Table
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = d.Cache.Backend
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = d.Cache.KeyPrefix
	}
	if cfg.Storefront.Provider == "" {
		cfg.Storefront.Provider = d.Storefront.Provider
	}
	if cfg.Events.InteractionTopic == "" {
		cfg.Events.InteractionTopic = d.Events.InteractionTopic
	}
	if cfg.Events.EscalationTopic == "" {
		cfg.Events.EscalationTopic = d.Events.EscalationTopic
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if c := cfg.Channels.IMAP; c != nil {
		if c.Port == 0 {
			c.Port = 993
		}
		if c.SMTPPort == 0 {
			c.SMTPPort = 587
		}
		if c.Mailbox == "" {
			c.Mailbox = "INBOX"
		}
		if c.PollSeconds <= 0 {
			c.PollSeconds = 60
		}
		if c.From == "" {
			c.From = c.Username
		}
	}
	if g := cfg.Channels.Gmail; g != nil {
		if g.Query == "" {
			g.Query = "is:unread in:inbox"
		}
		if g.PollSeconds <= 0 {
			g.PollSeconds = 60
		}
	}
}

func fillModel(m *ModelEntry, d ModelEntry) {
	if m.Provider == "" {
		m.Provider = d.Provider
	}
	if m.Model == "" {
		m.Model = d.Model
	}
	if m.MaxTokens <= 0 {
		m.MaxTokens = d.MaxTokens
	}
	if m.Temperature == nil {
		m.Temperature = d.Temperature
	}
}

// applyEnvOverrides reads HELPDESK_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HELPDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("HELPDESK_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("HELPDESK_TOKEN"); v != "" {
		cfg.Server.Auth.Token = v
	}
	if v := os.Getenv("HELPDESK_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("HELPDESK_OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("HELPDESK_ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}
	if v := os.Getenv("HELPDESK_POSTGRES_URL"); v != "" {
		cfg.RAG.PostgresURL = v
	}
	if v := os.Getenv("HELPDESK_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("HELPDESK_KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("HELPDESK_DAILY_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Accounting.DailyBudgetUSD = f
		}
	}
	if v := os.Getenv("HELPDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

package config

import "time"

// Config is the root configuration for the helpdesk service.
type Config struct {
	Server     ServerConfig     `yaml:"server,omitempty"`
	Storage    StorageConfig    `yaml:"storage,omitempty"`
	Providers  ProvidersConfig  `yaml:"providers,omitempty"`
	Models     ModelsConfig     `yaml:"models,omitempty"`
	Agent      AgentConfig      `yaml:"agent,omitempty"`
	RAG        RAGConfig        `yaml:"rag,omitempty"`
	Cache      CacheConfig      `yaml:"cache,omitempty"`
	Storefront StorefrontConfig `yaml:"storefront,omitempty"`
	Events     EventsConfig     `yaml:"events,omitempty"`
	Accounting AccountingConfig `yaml:"accounting,omitempty"`
	Channels   ChannelsConfig   `yaml:"channels,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// ServerConfig controls the operator HTTP/WebSocket server.
type ServerConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	Auth           ServerAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string   `yaml:"allowedOrigins,omitempty"`
	MaxConcurrency int        `yaml:"maxConcurrency,omitempty"` // concurrent processing runs
}

// ServerAuth configures operator authentication.
type ServerAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path,omitempty"` // empty: <home>/data/helpdesk.db
}

// ProvidersConfig holds language-model provider credentials.
type ProvidersConfig struct {
	OpenAI    ProviderEntry `yaml:"openai,omitempty"`
	Anthropic ProviderEntry `yaml:"anthropic,omitempty"`
}

// ProviderEntry defines one model provider.
type ProviderEntry struct {
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// ModelsConfig assigns models to the classifier and to each tier.
type ModelsConfig struct {
	Classifier    ModelEntry `yaml:"classifier,omitempty"`
	Simple        ModelEntry `yaml:"simple,omitempty"`
	Medium        ModelEntry `yaml:"medium,omitempty"`
	Complex       ModelEntry `yaml:"complex,omitempty"`
	Embedding     string     `yaml:"embedding,omitempty"`
	EmbeddingDims int        `yaml:"embeddingDimensions,omitempty"`
}

// ModelEntry selects a provider model and its sampling settings.
type ModelEntry struct {
	Provider    string   `yaml:"provider,omitempty"` // "openai" | "anthropic"
	Model       string   `yaml:"model,omitempty"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	Fallbacks   []string `yaml:"fallbacks,omitempty"` // "provider/model"
}

// AgentConfig bounds the orchestrator.
type AgentConfig struct {
	ToolCallHardCeiling     int     `yaml:"toolCallHardCeiling,omitempty"`
	ComplexBudget           int     `yaml:"complexBudget,omitempty"`   // complaint, refund, escalation intents
	LookupBudget            int     `yaml:"lookupBudget,omitempty"`    // order status and tracking intents
	KnowledgeBudget         int     `yaml:"knowledgeBudget,omitempty"` // return, product, policy intents
	SimpleConfidence        float64 `yaml:"simpleConfidence,omitempty"`
	EscalateBelowConfidence float64 `yaml:"escalateBelowConfidence,omitempty"`
	ClassifierTimeoutMs     int     `yaml:"classifierTimeoutMs,omitempty"`
	ModelTimeoutMs          int     `yaml:"modelTimeoutMs,omitempty"`
	ToolTimeoutMs           int     `yaml:"toolTimeoutMs,omitempty"`
	RunTimeoutMs            int     `yaml:"runTimeoutMs,omitempty"`
}

// ClassifierTimeout returns the per-call classifier timeout.
func (a AgentConfig) ClassifierTimeout() time.Duration {
	return time.Duration(a.ClassifierTimeoutMs) * time.Millisecond
}

// ModelTimeout returns the per-call tier model timeout.
func (a AgentConfig) ModelTimeout() time.Duration {
	return time.Duration(a.ModelTimeoutMs) * time.Millisecond
}

// ToolTimeout returns the per-call tool timeout.
func (a AgentConfig) ToolTimeout() time.Duration {
	return time.Duration(a.ToolTimeoutMs) * time.Millisecond
}

// RunTimeout returns the whole-run deadline applied by transports.
func (a AgentConfig) RunTimeout() time.Duration {
	return time.Duration(a.RunTimeoutMs) * time.Millisecond
}

// RAGConfig controls knowledge retrieval.
type RAGConfig struct {
	TopK                int     `yaml:"topK,omitempty"`
	SimilarityThreshold float64 `yaml:"similarityThreshold,omitempty"`
	Backend             string  `yaml:"backend,omitempty"` // "sqlite" | "pgvector"
	PostgresURL         string  `yaml:"postgresUrl,omitempty"`
	Table               string  `yaml:"table,omitempty"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled       bool   `yaml:"enabled,omitempty"`
	Backend       string `yaml:"backend,omitempty"`    // "sqlite" | "redis"
	TTLMinutes    int    `yaml:"ttlMinutes,omitempty"` // 0: entries never expire
	RedisAddr     string `yaml:"redisAddr,omitempty"`
	RedisPassword string `yaml:"redisPassword,omitempty"`
	RedisDB       int    `yaml:"redisDb,omitempty"`
	KeyPrefix     string `yaml:"keyPrefix,omitempty"`
}

// TTL returns the entry lifetime, zero for no expiry.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// StorefrontConfig configures the order-data adapter.
type StorefrontConfig struct {
	Provider   string  `yaml:"provider,omitempty"` // "mock"
	OrdersFile string  `yaml:"ordersFile,omitempty"`
	RateLimit  float64 `yaml:"rateLimit,omitempty"` // requests per second, 0 disables
	Burst      int     `yaml:"burst,omitempty"`
}

// EventsConfig configures the record event stream.
type EventsConfig struct {
	Enabled          bool     `yaml:"enabled,omitempty"`
	Brokers          []string `yaml:"brokers,omitempty"`
	InteractionTopic string   `yaml:"interactionTopic,omitempty"`
	EscalationTopic  string   `yaml:"escalationTopic,omitempty"`
}

// AccountingConfig caps model spend.
type AccountingConfig struct {
	DailyBudgetUSD float64 `yaml:"dailyBudgetUsd,omitempty"` // 0 disables the cap
}

// ChannelsConfig defines the inbound mail transports.
type ChannelsConfig struct {
	IMAP  *IMAPConfig  `yaml:"imap,omitempty"`
	Gmail *GmailConfig `yaml:"gmail,omitempty"`
}

// IMAPConfig polls a mailbox over IMAP and replies over SMTP.
type IMAPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port,omitempty"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password,omitempty"`
	Mailbox     string `yaml:"mailbox,omitempty"`
	PollSeconds int    `yaml:"pollSeconds,omitempty"`
	SMTPHost    string `yaml:"smtpHost"`
	SMTPPort    int    `yaml:"smtpPort,omitempty"`
	From        string `yaml:"from,omitempty"`
}

// GmailConfig polls a Gmail inbox through the Gmail API.
type GmailConfig struct {
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
	RefreshToken string `yaml:"refreshToken,omitempty"`
	Query        string `yaml:"query,omitempty"`
	PollSeconds  int    `yaml:"pollSeconds,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	Format string `yaml:"format,omitempty"` // "console" | "json"
}
